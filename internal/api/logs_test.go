package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/wart/internal/model"
)

func TestStreamLogsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/nonexistent/logs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamLogsReceivesEvents(t *testing.T) {
	srv := newTestServer(t)
	sess := openSession(t, srv)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/sessions/"+sess.Token+"/logs", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The handler subscribes before flushing headers.
	broker := srv.engine.Broker()
	broker.Publish(sess.Token, model.LogLine{RunID: "r1", Seq: 0, Level: "info", Line: "hello world"})
	broker.Publish(sess.Token, model.LogLine{RunID: "r1", Seq: 1, Level: "warn", Line: "multi\nline"})
	if err := srv.engine.CloseSession(context.Background(), sess.Token); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var lines []model.LogLine
	var done bool
	for scanner.Scan() {
		text := scanner.Text()
		if text == "event: done" {
			done = true
			continue
		}
		data, ok := strings.CutPrefix(text, "data: ")
		if !ok || done {
			continue
		}
		var l model.LogLine
		if err := json.Unmarshal([]byte(data), &l); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		lines = append(lines, l)
	}

	if !done {
		t.Error("stream ended without a done event")
	}
	if len(lines) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(lines), lines)
	}
	if lines[0].Line != "hello world" || lines[1].Line != "multi\nline" || lines[1].Level != "warn" {
		t.Errorf("events = %+v", lines)
	}
}

func TestGetLogHistory(t *testing.T) {
	srv := newTestServer(t)
	run := recordRun(t, srv, "tok", model.StatusCompleted, 5)
	ctx := context.Background()
	for i, l := range []string{"first", "second"} {
		if err := srv.store.InsertLogLine(ctx, run.ID, i, "info", l); err != nil {
			t.Fatalf("InsertLogLine: %v", err)
		}
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/logs/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body logHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RunID != run.ID || len(body.Lines) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Lines[0].Line != "first" || body.Lines[1].Seq != 1 {
		t.Errorf("lines = %+v", body.Lines)
	}

	resp2, err := http.Get(ts.URL + "/v1/runs/missing/logs/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp2.StatusCode)
	}
}
