package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/wart/internal/model"
)

func getStats(t *testing.T, srv *Server) statsResponse {
	t.Helper()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return stats
}

func TestGetStatsEmpty(t *testing.T) {
	stats := getStats(t, newTestServer(t))
	if stats.Total != 0 || stats.Sessions != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("avg_duration_ms = %f, want 0", stats.AvgDurationMS)
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	for range 3 {
		recordRun(t, srv, "tok-a", model.StatusCompleted, 100)
	}
	recordRun(t, srv, "tok-b", model.StatusTrapped, 100)

	stats := getStats(t, srv)
	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", stats.Sessions)
	}
	if stats.ByStatus[model.StatusCompleted] != 3 || stats.ByStatus[model.StatusTrapped] != 1 {
		t.Errorf("by_status = %v", stats.ByStatus)
	}
	if stats.ByNamespace["nebula:nba"] != 4 {
		t.Errorf("by_namespace = %v", stats.ByNamespace)
	}
	if stats.AvgDurationMS != 100 {
		t.Errorf("avg_duration_ms = %f, want 100", stats.AvgDurationMS)
	}
}
