package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"autosend/internal/automation"
	"autosend/internal/campaign"
	"autosend/internal/coordinator"
	logx "autosend/pkg/logx"
)

type Tabs interface {
	Snapshot() []coordinator.TabState
	GetAllTabs(ctx context.Context) ([]coordinator.TabState, error)
	TabStatus(ctx context.Context, tabID int) (automation.Status, error)
	StartAutomation(ctx context.Context, tabID int, cfg automation.Config) error
	StopAutomation(ctx context.Context, tabID int, clearHistory bool) error
	PauseAutomation(ctx context.Context, tabID int) error
}

type Schedules interface {
	Create(ctx context.Context, sc campaign.Schedule) (campaign.Schedule, error)
	Update(ctx context.Context, id string, sc campaign.Schedule) (campaign.Schedule, error)
	Delete(ctx context.Context, id string) error
	Get(id string) (campaign.Schedule, bool)
	GetAll() []campaign.Schedule
	Fire(ctx context.Context, id string, now time.Time) (campaign.FireResult, error)
}

// API holds the handlers; Status, when set, backs GET /api/status.
type API struct {
	Tabs      Tabs
	Schedules Schedules
	Profiles  campaign.Profiles
	Status    func() any
	Log       logx.Logger
	Now       func() time.Time
}

func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", a.status)

	mux.HandleFunc("GET /api/tabs", a.listTabs)
	mux.HandleFunc("GET /api/tabs/{id}", a.tabStatus)
	mux.HandleFunc("POST /api/tabs/{id}/start", a.startTab)
	mux.HandleFunc("POST /api/tabs/{id}/stop", a.stopTab)
	mux.HandleFunc("POST /api/tabs/{id}/pause", a.pauseTab)

	mux.HandleFunc("GET /api/schedules", a.listSchedules)
	mux.HandleFunc("POST /api/schedules", a.createSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", a.getSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", a.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", a.deleteSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/fire", a.fireSchedule)
	return mux
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	if a.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *API) listTabs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("probe") == "" {
		writeJSON(w, http.StatusOK, a.Tabs.Snapshot())
		return
	}
	tabs, err := a.Tabs.GetAllTabs(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tabs)
}

func (a *API) tabStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	st, err := a.Tabs.TabStatus(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type startRequest struct {
	Profile string             `json:"profile,omitempty"`
	Config  *automation.Config `json:"config,omitempty"`
}

func (a *API) startTab(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	var cfg automation.Config
	switch {
	case req.Config != nil:
		cfg = *req.Config
	case req.Profile != "" && a.Profiles != nil:
		p, ok := a.Profiles.Profile(req.Profile)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown profile "+req.Profile)
			return
		}
		cfg = p
	default:
		writeError(w, http.StatusBadRequest, "profile or config is required")
		return
	}
	if err := a.Tabs.StartAutomation(r.Context(), id, cfg); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tab_id": id})
}

type stopRequest struct {
	ClearHistory bool `json:"clear_history"`
}

func (a *API) stopTab(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	var req stopRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.Tabs.StopAutomation(r.Context(), id, req.ClearHistory); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tab_id": id})
}

func (a *API) pauseTab(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	if err := a.Tabs.PauseAutomation(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tab_id": id})
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Schedules.GetAll())
}

func (a *API) createSchedule(w http.ResponseWriter, r *http.Request) {
	var sc campaign.Schedule
	if !decode(w, r, &sc) {
		return
	}
	out, err := a.Schedules.Create(r.Context(), sc)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	sc, ok := a.Schedules.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, campaign.ErrScheduleNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var sc campaign.Schedule
	if !decode(w, r, &sc) {
		return
	}
	out, err := a.Schedules.Update(r.Context(), r.PathValue("id"), sc)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := a.Schedules.Delete(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) fireSchedule(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	res, err := a.Schedules.Fire(r.Context(), r.PathValue("id"), now())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		a.Log.Warn("api request failed", logx.Err(err))
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrTabNotFound), errors.Is(err, campaign.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidSchedule), errors.Is(err, automation.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, automation.ErrAlreadyRunning), errors.Is(err, automation.ErrNotRunning), errors.Is(err, automation.ErrNoConfig):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrTabUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func tabID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "bad tab id")
		return 0, false
	}
	return id, true
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
