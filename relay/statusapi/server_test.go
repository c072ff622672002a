package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m3rciful/curatorbot/relay"
	"github.com/m3rciful/curatorbot/relay/request"
)

type stubSource struct {
	st  relay.Status
	err error
}

func (s stubSource) Stats(context.Context) (relay.Status, error) { return s.st, s.err }

func TestHealth(t *testing.T) {
	srv := New(stubSource{})
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	srv := New(stubSource{st: relay.Status{
		Stats: request.Stats{
			Total:      4,
			ByStatus:   map[request.Status]int{request.StatusWaiting: 2, request.StatusAnswered: 2},
			Submitters: 3,
		},
		Queued:    1,
		Mode:      "longpoll",
		StartedAt: started,
		Uptime:    90 * time.Minute,
	}})

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/stats", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Success bool  `json:"success"`
		Data    Stats `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	d := body.Data
	if !body.Success || d.Total != 4 || d.Active != 2 || d.Submitters != 3 || d.Queued != 1 {
		t.Fatalf("stats = %+v", body)
	}
	if d.ByStatus["answered"] != 2 || d.UptimeSeconds != 5400 || !d.StartedAt.Equal(started) {
		t.Fatalf("stats = %+v", d)
	}
}

func TestStatsFailure(t *testing.T) {
	srv := New(stubSource{err: errors.New("store down")})
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/stats", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
