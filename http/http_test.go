package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chzchzchz/duocap/capture"
)

type fakeStatus struct{}

func (fakeStatus) ID() string           { return "8d7f0c4e" }
func (fakeStatus) State() capture.State { return capture.StateStreaming }
func (fakeStatus) Plan() capture.Plan {
	return capture.Plan{
		Channels: []capture.Channel{
			{ID: 0, FrequencyHz: 100000000, BlockBytes: 65536},
			{ID: 1, FrequencyHz: 101000000, BlockBytes: 65536},
		},
		InitialHz:    100000000,
		TransferUnit: 16384,
	}
}
func (fakeStatus) Stats() capture.Stats {
	return capture.Stats{BytesWritten: 262144, Chunks: 16, Blocks: [2]uint64{2, 2}, RetuneRequests: 4, Retunes: 4}
}

func get(t *testing.T, srv *httptest.Server, p string) string {
	t.Helper()
	resp, err := http.Get(srv.URL + p)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", p, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestStatusPage(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := capture.NewMetrics(reg); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewHandler(fakeStatus{}, reg))
	defer srv.Close()

	page := get(t, srv, "/")
	for _, want := range []string{"8d7f0c4e", "streaming", "101000000", "262144"} {
		if !strings.Contains(page, want) {
			t.Errorf("status page missing %q", want)
		}
	}

	var info statusInfo
	if err := json.Unmarshal([]byte(get(t, srv, "/status.json")), &info); err != nil {
		t.Fatal(err)
	}
	if info.State != "streaming" || len(info.Plan.Channels) != 2 || info.Stats.Retunes != 4 {
		t.Fatalf("unexpected status %+v", info)
	}

	if m := get(t, srv, "/metrics"); !strings.Contains(m, "duocap_capture_retune_requests_total") {
		t.Fatalf("metrics missing retune counter:\n%s", m)
	}

	resp, err := http.Post(srv.URL+"/", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
