package platform_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/platform"
	"github.com/AmericanPowerAI/LeaX/internal/session"
)

func testSession() session.Session {
	return session.Session{PlatformID: "board", CredentialRef: "ref-1", Status: session.StatusValid}
}

func TestBoardAdapter_Discover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ref-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"jobs":[
			{"id":"j1","title":"Paint a fence","budget_min":50,"budget_max":120,
			 "client":{"rating":4.2,"verified":true}},
			{"id":"j2","title":"Mount a TV","budget_max":80}
		]}`))
	}))
	defer srv.Close()

	adapter := platform.NewBoardAdapter("board", srv.URL)
	listings, err := adapter.Discover(context.Background(), testSession())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}
	if listings[0].ExternalID != "j1" || listings[0].BudgetMax != 120 {
		t.Errorf("listing[0] = %+v", listings[0])
	}
	if listings[0].Extra["clientRating"] != 4.2 {
		t.Errorf("client rating not carried through Extra: %+v", listings[0].Extra)
	}
}

// A schema change must surface as IncompatibleError, not a retryable
// transient failure.
func TestBoardAdapter_SchemaDrift(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jobs":[{"title":"listing with no id"}]}`))
	}))
	defer srv.Close()

	adapter := platform.NewBoardAdapter("board", srv.URL)
	_, err := adapter.Discover(context.Background(), testSession())
	if !platform.IsIncompatible(err) {
		t.Errorf("Discover error = %v, want IncompatibleError", err)
	}
}

func TestBoardAdapter_StatusCodeTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized is auth", http.StatusUnauthorized, func(err error) bool { return errors.Is(err, platform.ErrAuth) }},
		{"forbidden is auth", http.StatusForbidden, func(err error) bool { return errors.Is(err, platform.ErrAuth) }},
		{"429 is rate limited", http.StatusTooManyRequests, func(err error) bool { return errors.Is(err, platform.ErrRateLimited) }},
		{"500 is transient", http.StatusInternalServerError, func(err error) bool { return errors.Is(err, platform.ErrTransient) }},
		{"404 is incompatible", http.StatusNotFound, platform.IsIncompatible},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
			}))
			defer srv.Close()

			adapter := platform.NewBoardAdapter("board", srv.URL)
			_, err := adapter.Discover(context.Background(), testSession())
			if err == nil || !c.check(err) {
				t.Errorf("status %d → %v, wrong taxonomy", c.status, err)
			}
		})
	}
}

func TestBoardAdapter_SubmitBid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs/j1/bids" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"accepted":false,"reason":"bid below minimum"}`))
	}))
	defer srv.Close()

	adapter := platform.NewBoardAdapter("board", srv.URL)
	job := model.Job{PlatformID: "board", ExternalID: "j1"}
	res, err := adapter.SubmitBid(context.Background(), testSession(), job, 75)
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if res.Accepted || res.Reason != "bid below minimum" {
		t.Errorf("result = %+v", res)
	}
}

func TestBoardAdapter_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"token":"t","expiresAt":"2030-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	adapter := platform.NewBoardAdapter("board", srv.URL)
	expires, err := adapter.Login(context.Background(), "board", "ref-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if expires.Year() != 2030 {
		t.Errorf("expiry = %v", expires)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()
	_, err = platform.NewBoardAdapter("board", bad.URL).Login(context.Background(), "board", "ref-1")
	if !errors.Is(err, platform.ErrAuth) {
		t.Errorf("failed login = %v, want ErrAuth", err)
	}
}
