package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"polydearboard/internal/analytics"
	"polydearboard/internal/apierr"
	"polydearboard/internal/auth"
	"polydearboard/internal/config"
	"polydearboard/pkg/types"
)

// Handlers holds every REST handler's dependencies.
type Handlers struct {
	query       *analytics.QueryLayer
	leaderboard *analytics.LeaderboardCache
	store       *auth.Store
	cfg         config.Config
	logger      *slog.Logger
}

func NewHandlers(query *analytics.QueryLayer, leaderboard *analytics.LeaderboardCache, store *auth.Store, cfg config.Config, logger *slog.Logger) *Handlers {
	return &Handlers{query: query, leaderboard: leaderboard, store: store, cfg: cfg, logger: logger}
}

// ————————————————————————————————————————————————————————————————————————
// Health
// ————————————————————————————————————————————————————————————————————————

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.Health(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ————————————————————————————————————————————————————————————————————————
// Auth
// ————————————————————————————————————————————————————————————————————————

func (h *Handlers) HandleAuthNonce(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, apierr.Parse("address is required"))
		return
	}
	nonce, issuedAt, err := h.store.IssueNonce(address)
	if err != nil {
		writeError(w, apierr.Upstream(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"nonce":    nonce,
		"issuedAt": issuedAt.Format(time.RFC3339),
	})
}

type verifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"`
}

func (h *Handlers) HandleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Parse("malformed request body"))
		return
	}

	token, err := h.store.Verify(req.Address, req.Signature, req.Nonce, req.IssuedAt)
	if err != nil {
		writeError(w, authError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token,
		"address": strings.ToLower(req.Address),
	})
}

func authError(err error) error {
	if errors.Is(err, auth.ErrNonceMismatch) {
		return apierr.Auth("nonce mismatch")
	}
	return apierr.Auth(err.Error())
}

// ————————————————————————————————————————————————————————————————————————
// Leaderboard / trader / market endpoints
// ————————————————————————————————————————————————————————————————————————

func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.leaderboard.Get(r.Context(), analytics.LeaderboardParams{
		Sort:      q.Get("sort"),
		Order:     q.Get("order"),
		Limit:     clampLimit(intParam(r, "limit", 50)),
		Offset:    intParam(r, "offset", 0),
		Timeframe: q.Get("timeframe"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleTraderStats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.TraderStats(r.Context(), chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleTraderProfile(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.TraderProfile(r.Context(), chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleTraderTrades(w http.ResponseWriter, r *http.Request) {
	side := strings.ToUpper(r.URL.Query().Get("side"))
	if side != "" && side != "BUY" && side != "SELL" {
		writeError(w, apierr.Parse("side must be BUY or SELL"))
		return
	}
	resp, err := h.query.TraderTrades(r.Context(), chi.URLParam(r, "addr"),
		clampLimit(intParam(r, "limit", 50)), intParam(r, "offset", 0), strings.ToLower(side))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleTraderPositions(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.TraderPositions(r.Context(), chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleTraderPnlChart(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.PnlChart(r.Context(), chi.URLParam(r, "addr"), r.URL.Query().Get("timeframe"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleHotMarkets(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.HotMarkets(r.Context(), clampLimit(intParam(r, "limit", 20)), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleRecentTrades(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.RecentTrades(r.Context(), clampLimit(intParam(r, "limit", 50)), r.URL.Query().Get("token_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleResolveMarkets(w http.ResponseWriter, r *http.Request) {
	ids, err := analytics.ValidateTokenIDs(r.URL.Query().Get("token_ids"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.query.ResolveMarkets(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleSmartMoney(w http.ResponseWriter, r *http.Request) {
	topN := intParam(r, "top", 10)
	resp, err := h.query.SmartMoney(r.Context(), topN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ————————————————————————————————————————————————————————————————————————
// Lab (backtest / copy-portfolio)
// ————————————————————————————————————————————————————————————————————————

// backtestRequest is POST /api/lab/backtest's body, matching spec.md §4.9's
// documented parameter set directly rather than the trader/scale-list shape
// an earlier draft of pkg/types carried (removed — see DESIGN.md).
type backtestRequest struct {
	TopN           int     `json:"top_n"`
	Timeframe      string  `json:"timeframe"`
	InitialCapital float64 `json:"initial_capital"`
	CopyPct        float64 `json:"copy_pct"`
}

func (h *Handlers) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Parse("malformed request body"))
		return
	}
	if req.TopN <= 0 {
		req.TopN = 10
	}
	if req.CopyPct <= 0 {
		req.CopyPct = 1.0
	}
	resp, err := h.query.Backtest(r.Context(), req.TopN, req.Timeframe, req.InitialCapital, req.CopyPct)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleCopyPortfolio(w http.ResponseWriter, r *http.Request) {
	resp, err := h.query.CopyPortfolio(r.Context(), intParam(r, "top", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ————————————————————————————————————————————————————————————————————————
// Trader lists (JWT-protected, supplemented from original_source — see
// SPEC_FULL.md §6)
// ————————————————————————————————————————————————————————————————————————

type sessionKey struct{}

// requireSession validates the bearer token and stashes the wallet address
// in the request context for downstream handlers.
func (h *Handlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeError(w, apierr.Auth("missing bearer token"))
			return
		}
		address, err := h.store.ValidateSession(token)
		if err != nil {
			writeError(w, apierr.Auth("invalid token"))
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionAddress(r *http.Request) string {
	addr, _ := r.Context().Value(sessionKey{}).(string)
	return addr
}

func (h *Handlers) HandleListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.store.ListTraderLists(sessionAddress(r))
	if err != nil {
		writeError(w, apierr.Upstream(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]types.TraderList{"lists": lists})
}

type createListRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) HandleCreateList(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, apierr.Parse("name is required"))
		return
	}
	list, err := h.store.CreateTraderList(sessionAddress(r), req.Name)
	if err != nil {
		writeError(w, listError(err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) HandleGetList(w http.ResponseWriter, r *http.Request) {
	detail, err := h.store.GetTraderList(chi.URLParam(r, "id"), sessionAddress(r))
	if err != nil {
		writeError(w, listError(err))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handlers) HandleRenameList(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, apierr.Parse("name is required"))
		return
	}
	if err := h.store.RenameTraderList(chi.URLParam(r, "id"), sessionAddress(r), req.Name); err != nil {
		writeError(w, listError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleDeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTraderList(chi.URLParam(r, "id"), sessionAddress(r)); err != nil {
		writeError(w, listError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type membersRequest struct {
	Members   []types.TraderListMember `json:"members,omitempty"`
	Addresses []string                 `json:"addresses,omitempty"`
}

func (h *Handlers) HandleAddMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Parse("malformed request body"))
		return
	}
	if err := h.store.AddListMembers(chi.URLParam(r, "id"), sessionAddress(r), req.Members); err != nil {
		writeError(w, listError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleRemoveMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Parse("malformed request body"))
		return
	}
	if err := h.store.RemoveListMembers(chi.URLParam(r, "id"), sessionAddress(r), req.Addresses); err != nil {
		writeError(w, listError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func listError(err error) error {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return apierr.NotFound("list not found")
	case errors.Is(err, auth.ErrDuplicateName):
		return apierr.Duplicate("a list with that name already exists")
	case errors.Is(err, auth.ErrLimitExceeded):
		return apierr.LimitExceeded(err.Error())
	default:
		return apierr.Upstream(err.Error())
	}
}

// clampLimit keeps a caller-supplied page size within a sane range, in lieu
// of the request erroring on an abusive limit.
func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 500 {
		return 500
	}
	return n
}
