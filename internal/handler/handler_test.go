package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/web3-frozen/oraclebot/internal/supervisor"
)

type fakeFleet struct {
	ready    bool
	statuses []supervisor.Status
}

func (f *fakeFleet) Ready() bool                 { return f.ready }
func (f *fakeFleet) Health() []supervisor.Status { return f.statuses }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		ready bool
		want  int
	}{
		{false, http.StatusServiceUnavailable},
		{true, http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Ready(&fakeFleet{ready: tt.ready}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != tt.want {
			t.Errorf("ready=%v: status = %d, want %d", tt.ready, rec.Code, tt.want)
		}
	}
}

func TestBotsHandler(t *testing.T) {
	f := &fakeFleet{statuses: []supervisor.Status{
		{Name: "BOG", State: "polling", Watchdog: "healthy", LastPrice: "0.50", LastSuccess: time.Unix(1_700_000_000, 0).UTC()},
		{Name: "WBNB", State: "backoff", Watchdog: "degraded", Degraded: true, LastError: "oracle call getBNBSpotPrice: timeout"},
	}}
	handler := Bots(f)

	req := httptest.NewRequest(http.MethodGet, "/api/bots", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var all []supervisor.Status
	if err := json.NewDecoder(rec.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 || all[1].Watchdog != "degraded" || !all[1].Degraded {
		t.Errorf("statuses = %+v", all)
	}

	// Single bot, case-insensitive
	req = httptest.NewRequest(http.MethodGet, "/api/bots?bot=bog", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var one supervisor.Status
	if err := json.NewDecoder(rec.Body).Decode(&one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if one.Name != "BOG" || one.LastPrice != "0.50" {
		t.Errorf("status = %+v, want BOG", one)
	}

	// Unknown bot
	req = httptest.NewRequest(http.MethodGet, "/api/bots?bot=nonexistent", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown bot: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
