package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsstatus/internal/config"
	"bsstatus/internal/status"
)

type fixedFinder struct {
	name  string
	st    status.Status
	err   error
	calls int
}

func (f *fixedFinder) Name() string { return f.name }

func (f *fixedFinder) Status(context.Context) (status.Status, error) {
	f.calls++
	return f.st, f.err
}

func TestHealth(t *testing.T) {
	s := NewServer(config.DefaultConfig(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	ical := &fixedFinder{name: "ical", st: status.Busy}
	slack := &fixedFinder{name: "slack", err: errors.New("slackapi: dnd.info: invalid_auth")}
	s := NewServer(config.DefaultConfig(), []status.Finder{ical, slack})
	checked := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return checked }

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.CheckedAt.Equal(checked))
	require.Len(t, resp.Finders, 2)
	assert.Equal(t, FinderResult{Name: "ical", Status: status.Busy}, resp.Finders[0])
	assert.Equal(t, "slack", resp.Finders[1].Name)
	assert.Equal(t, status.Unknown, resp.Finders[1].Status)
	assert.Contains(t, resp.Finders[1].Error, "invalid_auth")
}

func TestStatusEndpointRejectsPost(t *testing.T) {
	s := NewServer(config.DefaultConfig(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "hunter2"}
	finder := &fixedFinder{name: "ical", st: status.Available}
	h := NewServer(cfg, []status.Finder{finder}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, finder.calls)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "hunter2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveKeepsOrder(t *testing.T) {
	got := Resolve(context.Background(), []status.Finder{
		&fixedFinder{name: "slack", st: status.Away},
		&fixedFinder{name: "ical", st: status.Available},
	})
	assert.Equal(t, []FinderResult{
		{Name: "slack", Status: status.Away},
		{Name: "ical", Status: status.Available},
	}, got)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	s := NewServer(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
