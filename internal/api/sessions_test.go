package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetAndCloseSession(t *testing.T) {
	srv := newTestServer(t)
	sess := openSession(t, srv)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/" + sess.Token)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if body.Token != sess.Token || body.Namespace != "nebula:nba" {
		t.Errorf("session = %+v", body)
	}
	if body.IOTimeout != 1000 || body.ExecutionTimeout != 2000 || body.Parallelism != 4 {
		t.Errorf("session limits = %+v", body)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+sess.Token, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req, _ := http.NewRequest(method, ts.URL+"/v1/sessions/"+sess.Token, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s after close = %d, want 404", method, resp.StatusCode)
		}
	}
}
