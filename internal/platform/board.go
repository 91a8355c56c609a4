package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/session"
)

const (
	boardPageSize = 50
	boardMaxPages = 3 // max 150 listings per poll cycle
	httpTimeout   = 15 * time.Second
)

// BoardAdapter is the reference Adapter: a generic JSON job-board API.
// Expected endpoints (placeholders, not target-specific):
//
//	POST {base}/api/login                          -> {"token":"…","expiresAt":"RFC3339"}
//	GET  {base}/api/jobs?page=N&per_page=M         -> {"jobs":[…]}
//	POST {base}/api/jobs/{id}/bids                 -> {"accepted":bool,"reason":"…"}
//
// Marketplace-specific connectors live behind the same Adapter
// contract in their own implementations.
type BoardAdapter struct {
	platformID string
	baseURL    string
	client     *http.Client
}

// NewBoardAdapter constructs a BoardAdapter with a shared HTTP client.
func NewBoardAdapter(platformID, baseURL string) *BoardAdapter {
	return &BoardAdapter{
		platformID: platformID,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// ID implements Adapter.
func (b *BoardAdapter) ID() string { return b.platformID }

// boardListing mirrors one listing in the board's JSON response.
type boardListing struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	BudgetMin   float64                `json:"budget_min"`
	BudgetMax   float64                `json:"budget_max"`
	Currency    string                 `json:"currency"`
	PostedAt    time.Time              `json:"posted_at"`
	Client      map[string]interface{} `json:"client"`
}

type boardPage struct {
	Jobs []boardListing `json:"jobs"`
}

// Discover runs one poll cycle, paging until a short page or the page
// ceiling. A response that stops looking like the known schema is
// reported as IncompatibleError so the platform is disabled instead of
// retried forever.
func (b *BoardAdapter) Discover(ctx context.Context, s session.Session) ([]RawListing, error) {
	var listings []RawListing
	for page := 1; page <= boardMaxPages; page++ {
		batch, err := b.fetchPage(ctx, s, page)
		if err != nil {
			return listings, fmt.Errorf("page %d: %w", page, err)
		}
		listings = append(listings, batch...)
		if len(batch) < boardPageSize {
			break
		}
	}
	return listings, nil
}

func (b *BoardAdapter) fetchPage(ctx context.Context, s session.Session, page int) ([]RawListing, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(boardPageSize))
	params.Set("sort", "newest")

	reqURL := fmt.Sprintf("%s/api/jobs?%s", b.baseURL, params.Encode())
	body, err := b.do(ctx, http.MethodGet, reqURL, s, nil)
	if err != nil {
		return nil, err
	}

	var resp boardPage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &IncompatibleError{PlatformID: b.platformID, Detail: fmt.Sprintf("listing payload no longer parses: %v", err)}
	}

	listings := make([]RawListing, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		if j.ID == "" || j.Title == "" {
			return nil, &IncompatibleError{PlatformID: b.platformID, Detail: "listing schema changed: id/title missing"}
		}
		extra := map[string]interface{}{}
		if v, ok := j.Client["rating"]; ok {
			extra["clientRating"] = v
		}
		if v, ok := j.Client["hire_count"]; ok {
			extra["clientHireCount"] = v
		}
		if v, ok := j.Client["verified"]; ok {
			extra["clientVerified"] = v
		}
		listings = append(listings, RawListing{
			ExternalID:  j.ID,
			Title:       j.Title,
			Description: j.Description,
			Category:    j.Category,
			BudgetMin:   j.BudgetMin,
			BudgetMax:   j.BudgetMax,
			Currency:    j.Currency,
			PostedAt:    j.PostedAt,
			Extra:       extra,
		})
	}
	return listings, nil
}

type boardBidResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// SubmitBid implements Adapter.
func (b *BoardAdapter) SubmitBid(ctx context.Context, s session.Session, job model.Job, amount float64) (SubmissionResult, error) {
	payload, _ := json.Marshal(map[string]float64{"amount": amount})
	reqURL := fmt.Sprintf("%s/api/jobs/%s/bids", b.baseURL, url.PathEscape(job.ExternalID))

	body, err := b.do(ctx, http.MethodPost, reqURL, s, payload)
	if err != nil {
		return SubmissionResult{}, err
	}

	var resp boardBidResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SubmissionResult{}, &IncompatibleError{PlatformID: b.platformID, Detail: fmt.Sprintf("bid response no longer parses: %v", err)}
	}
	return SubmissionResult{Accepted: resp.Accepted, Reason: resp.Reason}, nil
}

// do issues one authenticated request, mapping HTTP status codes onto
// the error taxonomy.
func (b *BoardAdapter) do(ctx context.Context, method, reqURL string, s session.Session, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.CredentialRef)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status 429", ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &IncompatibleError{PlatformID: b.platformID, Detail: fmt.Sprintf("endpoint gone: status %d", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrTransient, resp.StatusCode, string(body))
	}
}

// ─── Authenticator ───────────────────────────────────────────────────────────

type boardLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login implements session.Authenticator against the board's login
// endpoint. credentialRef is passed through opaquely.
func (b *BoardAdapter) Login(ctx context.Context, platformID, credentialRef string) (time.Time, error) {
	payload, _ := json.Marshal(map[string]string{"credential": credentialRef})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/login", bytes.NewReader(payload))
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("%w: login status %d", ErrAuth, resp.StatusCode)
	}
	var lr boardLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return time.Time{}, fmt.Errorf("decode login response: %w", err)
	}
	if lr.ExpiresAt.IsZero() {
		lr.ExpiresAt = time.Now().Add(time.Hour)
	}
	return lr.ExpiresAt, nil
}
