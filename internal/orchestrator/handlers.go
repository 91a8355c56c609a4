// HTTP control surface for the orchestrator.
//
// All routes are mounted behind the Gateway, which handles auth.
//
// Routes:
//
//	GET  /health                        → per-platform health + win stats
//	GET  /platforms                     → same as /health (UI alias)
//	POST /platforms/{id}/enable         → start monitoring + dispatch
//	POST /platforms/{id}/disable        → stop tasks, cancel queued bids
//	POST /platforms/{id}/reauth         → operator re-auth for a halted platform
//	GET  /strategy                      → active strategy
//	PUT  /strategy                      → hot-swap strategy (version bumps)
//	GET  /bids?platform=&status=&limit= → bid attempt history
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/AmericanPowerAI/LeaX/internal/bidstore"
	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/session"
)

// RegisterRoutes mounts the control surface on mux.
func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", o.handleHealth)
	mux.HandleFunc("/platforms", o.handleHealth)
	mux.HandleFunc("/platforms/", o.handlePlatformAction)
	mux.HandleFunc("/strategy", o.handleStrategy)
	mux.HandleFunc("/bids", o.handleBids)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleHealth handles GET /health and GET /platforms
func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonOK(w, map[string]any{
		"status":    "ok",
		"strategy":  o.Strategy().Version,
		"platforms": o.Health(r.Context()),
	})
}

// handlePlatformAction handles POST /platforms/{id}/enable|disable|reauth
func (o *Orchestrator) handlePlatformAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse /platforms/{id}/{action}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}

	platformID := parts[1]
	action := parts[2]

	var err error
	switch action {
	case "enable":
		err = o.Enable(platformID)
	case "disable":
		err = o.Disable(platformID)
	case "reauth":
		err = o.Reauthenticate(r.Context(), platformID)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
		return
	}

	switch {
	case err == nil:
		jsonOK(w, map[string]string{"platformId": platformID, "action": action})
	case errors.Is(err, ErrUnknownPlatform):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrLoginRateLimited):
		jsonError(w, err.Error(), http.StatusTooManyRequests)
	default:
		jsonError(w, err.Error(), http.StatusBadGateway)
	}
}

// handleStrategy handles GET /strategy and PUT /strategy
func (o *Orchestrator) handleStrategy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonOK(w, o.Strategy())
	case http.MethodPut:
		var s model.Strategy
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			jsonError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		switch s.BidFunc {
		case "", model.BidFixed, model.BidPercent, model.BidUndercut:
		default:
			jsonError(w, fmt.Sprintf("unknown bid_func %q", s.BidFunc), http.StatusBadRequest)
			return
		}
		if s.Amount < 0 || s.BudgetFloor < 0 {
			jsonError(w, "amount and budget_floor must be non-negative", http.StatusBadRequest)
			return
		}
		jsonOK(w, o.UpdateStrategy(s))
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBids handles GET /bids
func (o *Orchestrator) handleBids(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f := bidstore.Filter{
		PlatformID: r.URL.Query().Get("platform"),
		Status:     r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	attempts, err := o.ListBidAttempts(r.Context(), f)
	if err != nil {
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, attempts)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
