package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"autosend/internal/alarm"
	"autosend/internal/automation"
	"autosend/internal/campaign"
	"autosend/internal/coordinator"
	"autosend/internal/storage"
)

type fakeTransport struct {
	mu   sync.Mutex
	cmds []coordinator.Command
}

func (f *fakeTransport) TabExists(ctx context.Context, id int) (bool, error) { return true, nil }

func (f *fakeTransport) Send(ctx context.Context, id int, cmd coordinator.Command) (coordinator.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return coordinator.Reply{OK: true}, nil
}

type fixture struct {
	tr    *fakeTransport
	coord *coordinator.Coordinator
	alarm *alarm.Manual
	h     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemory()
	tr := &fakeTransport{}
	coord := coordinator.New(coordinator.Options{Store: st, Transport: tr})
	if _, err := coord.RegisterTab(context.Background(), 5, "https://chat.example", "chat"); err != nil {
		t.Fatalf("RegisterTab: %v", err)
	}
	profiles := campaign.ProfileMap{"default": {Messages: []string{"hi"}, MinIntervalSeconds: 5, MaxIntervalSeconds: 10}}
	am := alarm.NewManual()
	sched := campaign.New(campaign.Options{Store: st, Alarms: am, Tabs: coord, Profiles: profiles, Location: time.UTC})
	api := &API{Tabs: coord, Schedules: sched, Profiles: profiles, Status: func() any { return map[string]int{"tabs": len(coord.Snapshot())} }}
	return &fixture{tr: tr, coord: coord, alarm: am, h: api.Routes()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func TestStartStopTab(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/tabs/5/start", `{"profile":"default"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	if st, _ := f.coord.GetTabState(5); !st.IsRunning || st.Config == nil {
		t.Fatalf("tab not marked running: %+v", st)
	}

	rec = f.do(t, http.MethodPost, "/api/tabs/5/stop", `{"clear_history":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d %s", rec.Code, rec.Body.String())
	}
	if len(f.tr.cmds) != 2 || f.tr.cmds[1].Action != coordinator.ActionStop || !f.tr.cmds[1].ClearHistory {
		t.Fatalf("unexpected commands: %+v", f.tr.cmds)
	}
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		path, body string
		code       int
	}{
		{"/api/tabs/99/start", `{"profile":"default"}`, http.StatusNotFound},
		{"/api/tabs/x/start", `{"profile":"default"}`, http.StatusBadRequest},
		{"/api/tabs/5/start", `{"profile":"nope"}`, http.StatusBadRequest},
		{"/api/tabs/5/start", ``, http.StatusBadRequest},
		{"/api/tabs/5/start", `{"config":{"messages":["a"],"min_interval_seconds":9,"max_interval_seconds":1}}`, http.StatusBadRequest},
		{"/api/tabs/5/start", `{"bogus":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodPost, tc.path, tc.body)
		if rec.Code != tc.code {
			t.Errorf("%s %s: got %d want %d (%s)", tc.path, tc.body, rec.Code, tc.code, rec.Body.String())
		}
	}
}

func TestScheduleCRUD(t *testing.T) {
	f := newFixture(t)

	body := `{"name":"night","profile_id":"default","start_time":"22:00","end_time":"06:00","interval":{"min":120,"max":300},"active":true}`
	rec := f.do(t, http.MethodPost, "/api/schedules", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var sc campaign.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sc.ID == "" || !f.alarm.Has(campaign.AlarmName(sc.ID)) || f.alarm.Period(campaign.AlarmName(sc.ID)) != 2 {
		t.Fatalf("schedule not registered: %+v", sc)
	}

	rec = f.do(t, http.MethodGet, "/api/schedules", "")
	var list []campaign.Schedule
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Fatalf("expected one schedule, got %s", rec.Body.String())
	}

	up := strings.Replace(body, `"active":true`, `"active":false`, 1)
	rec = f.do(t, http.MethodPut, "/api/schedules/"+sc.ID, up)
	if rec.Code != http.StatusOK || f.alarm.Has(campaign.AlarmName(sc.ID)) {
		t.Fatalf("deactivate: %d alarms=%v", rec.Code, f.alarm.Names())
	}

	if rec = f.do(t, http.MethodDelete, "/api/schedules/"+sc.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec = f.do(t, http.MethodGet, "/api/schedules/"+sc.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
	if rec = f.do(t, http.MethodPost, "/api/schedules", `{"name":"bad"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid schedule: %d", rec.Code)
	}
}

func TestStatusAndTabs(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"tabs": 1`) {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/api/tabs?probe=1", "")
	var tabs []coordinator.TabState
	_ = json.Unmarshal(rec.Body.Bytes(), &tabs)
	if len(tabs) != 1 || tabs[0].TabID != 5 {
		t.Fatalf("tabs: %s", rec.Body.String())
	}
}

func TestWithAuth(t *testing.T) {
	h := WithAuth("s3cret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	cases := []struct {
		path, header string
		code         int
	}{
		{"/api/status", "", http.StatusUnauthorized},
		{"/api/status", "Bearer wrong", http.StatusUnauthorized},
		{"/api/status", "Bearer s3cret", http.StatusTeapot},
		{"/api/status?token=s3cret", "", http.StatusTeapot},
		{"/api/status?token=nope", "Bearer s3cret", http.StatusUnauthorized},
		{"/healthz", "", http.StatusTeapot},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Errorf("%s [%s]: got %d want %d", tc.path, tc.header, rec.Code, tc.code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	if statusFor(automation.ErrAlreadyRunning) != http.StatusConflict {
		t.Fatalf("already running should be 409")
	}
	if statusFor(coordinator.ErrTabUnreachable) != http.StatusBadGateway {
		t.Fatalf("unreachable should be 502")
	}
}
