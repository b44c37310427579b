// Package api exposes HTTP handlers for leaderboards and scored activities.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/strideleague/pointsd/internal/domain"
	"github.com/strideleague/pointsd/internal/leaderboard"
	"github.com/strideleague/pointsd/internal/persistence"
)

// Store is the read surface the handlers need.
type Store interface {
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	GetStandings(ctx context.Context, eventID string) ([]domain.Standing, error)
	ListScoredByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ScoredActivity, *domain.Cursor, error)
}

// Handler coordinates HTTP requests with the store.
type Handler struct {
	store Store
}

// NewHandler builds a Handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events/", h.eventSubresource)
	mux.HandleFunc("/v1/users/", h.userSubresource)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) eventSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	eventID, sub, found := strings.Cut(rest, "/")
	if !found || eventID == "" || sub != "leaderboard" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	h.getLeaderboard(w, r, eventID)
}

func (h *Handler) userSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	userID, sub, found := strings.Cut(rest, "/")
	if !found || userID == "" || sub != "scores" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	h.listScores(w, r, userID)
}

func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request, eventID string) {
	event, err := h.store.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "not_found", "event not found")
		return
	}

	standings, err := h.store.GetStandings(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	entries := leaderboard.BuildEntries(*event, standings)

	resp := LeaderboardResponse{
		EventID:   event.ID,
		EventName: event.Name,
		StartDate: event.StartDate,
		EndDate:   event.EndDate,
		Entries:   entries,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listScores(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	scored, next, err := h.store.ListScoredByUser(r.Context(), userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ScoredView, 0, len(scored))
	for _, row := range scored {
		items = append(items, toScoredView(row))
	}

	resp := ListScoresResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	}
	writeJSON(w, http.StatusOK, resp)
}

// LeaderboardResponse packages the ranked completion table for one event.
type LeaderboardResponse struct {
	EventID   string              `json:"event_id"`
	EventName string              `json:"event_name"`
	StartDate time.Time           `json:"start_date"`
	EndDate   time.Time           `json:"end_date"`
	Entries   []leaderboard.Entry `json:"entries"`
}

// ScoredView exposes one scored activity row.
type ScoredView struct {
	ActivityID    int64       `json:"activity_id"`
	EventID       string      `json:"event_id"`
	ActivityDate  string      `json:"activity_date"`
	BasePoints    float64     `json:"base_points"`
	FinalPoints   float64     `json:"final_points"`
	AppliedBonus  *BonusView  `json:"applied_bonus,omitempty"`
	RejectedBonus []BonusView `json:"rejected_bonuses,omitempty"`
	Blocked       bool        `json:"blocked"`
	BlockedRule   string      `json:"blocked_rule,omitempty"`
	BlockedReason string      `json:"blocked_reason,omitempty"`
}

// BonusView exposes one bonus rule application.
type BonusView struct {
	Rule       string  `json:"rule"`
	Multiplier float64 `json:"multiplier"`
}

// ListScoresResponse packages list results.
type ListScoresResponse struct {
	Items      []ScoredView `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func toScoredView(scored domain.ScoredActivity) ScoredView {
	view := ScoredView{
		ActivityID:   scored.ActivityID,
		EventID:      scored.EventID,
		ActivityDate: scored.ActivityDate.Format("2006-01-02"),
		BasePoints:   scored.BasePoints,
		FinalPoints:  scored.FinalPoints,
		Blocked:      scored.Blocked,
	}
	if scored.AppliedBonus != nil {
		view.AppliedBonus = &BonusView{Rule: string(scored.AppliedBonus.Rule), Multiplier: scored.AppliedBonus.Multiplier}
	}
	for _, bonus := range scored.RejectedBonus {
		view.RejectedBonus = append(view.RejectedBonus, BonusView{Rule: string(bonus.Rule), Multiplier: bonus.Multiplier})
	}
	if scored.Blocked {
		view.BlockedRule = string(scored.BlockedRule)
		view.BlockedReason = scored.BlockedReason
	}
	return view
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}
