package control

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/small-frappuccino/teamlists/pkg/metrics"
	"github.com/small-frappuccino/teamlists/pkg/render"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

type fakeSweeper struct {
	calls int
	err   error
	last  time.Time
}

func (f *fakeSweeper) Sweep(context.Context) (render.SweepStats, error) {
	f.calls++
	return render.SweepStats{Rendered: 2, Fresh: 1}, f.err
}

func (f *fakeSweeper) LastSweep() time.Time { return f.last }

func newTestServer(t *testing.T, sw Sweeper, health Health) (*Server, *teamlist.Registry) {
	t.Helper()
	reg := teamlist.NewRegistry()
	_, err := reg.Create("g1", "c1", "r1")
	require.NoError(t, err)
	_, err = reg.Create("g2", "c2", "r2")
	require.NoError(t, err)
	require.NoError(t, reg.SetMessageID(teamlist.ListKey{ChannelID: "c1", RoleID: "r1"}, "m1"))

	s := NewServer("127.0.0.1:0", reg, sw, health)
	require.NotNil(t, s)
	return s, reg
}

func do(t *testing.T, s *Server, method, target string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestNewServerDisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, NewServer("  ", teamlist.NewRegistry(), nil, nil))
	var s *Server
	assert.NoError(t, s.Start())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestHealthz(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ready := true
	s, _ := newTestServer(t, &fakeSweeper{last: last}, func() (bool, int) { return ready, 3 })

	resp, body := do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"tracked_lists":2`)
	assert.Contains(t, body, `"guilds":3`)
	assert.Contains(t, body, `"last_sweep":"2024-05-01T12:00:00Z"`)

	ready = false
	resp, body = do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, `"status":"starting"`)
}

func TestListsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	resp, body := do(t, s, http.MethodGet, "/v1/lists")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(body, `"team_role_id"`))
	assert.Contains(t, body, `"state":"rendered"`)
	assert.Contains(t, body, `"state":"unrendered"`)

	_, body = do(t, s, http.MethodGet, "/v1/lists?guild_id=g2")
	assert.Equal(t, 1, strings.Count(body, `"team_role_id"`))
	assert.Contains(t, body, `"channel_id":"c2"`)

	resp, _ = do(t, s, http.MethodPost, "/v1/lists")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSweepEndpoint(t *testing.T) {
	sw := &fakeSweeper{}
	s, _ := newTestServer(t, sw, nil)

	resp, _ := do(t, s, http.MethodGet, "/v1/sweep")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body := do(t, s, http.MethodPost, "/v1/sweep")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"rendered":2`)
	assert.Equal(t, 1, sw.calls)

	s.sweepLimit = rate.NewLimiter(rate.Inf, 1)
	sw.err = errors.New("interrupted")
	resp, _ = do(t, s, http.MethodPost, "/v1/sweep")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	noSweep, _ := newTestServer(t, nil, nil)
	resp, _ = do(t, noSweep, http.MethodPost, "/v1/sweep")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSweepEndpointCooldown(t *testing.T) {
	sw := &fakeSweeper{}
	s, _ := newTestServer(t, sw, nil)

	resp, _ := do(t, s, http.MethodPost, "/v1/sweep")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/v1/sweep")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, 1, sw.calls, "rejected request must not sweep")
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.SweepCount.Inc()
	s, _ := newTestServer(t, nil, nil)

	resp, body := do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "teamlists_sweeps_total")
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
}
