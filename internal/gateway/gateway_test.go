package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/blasttap/internal/alerts"
	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/cache"
	"github.com/terminal-bench/blasttap/internal/feed"
	"github.com/terminal-bench/blasttap/internal/gateway"
	"github.com/terminal-bench/blasttap/internal/history"
	"github.com/terminal-bench/blasttap/internal/pipeline"
	"github.com/terminal-bench/blasttap/internal/session"
	"github.com/terminal-bench/blasttap/internal/sink"
	"github.com/terminal-bench/blasttap/pkg/circuit"
	"go.uber.org/zap"
)

const secret = "test-secret"

var nine = time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	handler  http.Handler
	alerts   *alerts.Engine
	cache    *cache.Latest
	registry *session.Registry
	token    string
}

type options struct {
	wrapCache func(*cache.Latest) sink.Sink
	archive   gateway.Archive
	broker    gateway.Broker
}

func newFixture(t *testing.T, jwtSecret string) *fixture {
	return newFixtureWith(t, jwtSecret, options{})
}

func newFixtureWith(t *testing.T, jwtSecret string, opts options) *fixture {
	t.Helper()
	logger := zap.NewNop()
	eng := alerts.NewEngine(nil, logger)
	hub := feed.NewHub(logger)
	latest := cache.New(nil, time.Minute)
	var cacheSink sink.Sink = latest
	if opts.wrapCache != nil {
		cacheSink = opts.wrapCache(latest)
	}
	dispatcher := sink.NewDispatcher(logger, circuit.NewGroup(circuit.DefaultConfig()), time.Second, eng, cacheSink, hub)
	registry := session.NewRegistry(pipeline.DefaultOptions(), 100, 0)

	gw := gateway.New(gateway.Config{JWTSecret: jwtSecret}, gateway.Deps{
		Registry:   registry,
		Dispatcher: dispatcher,
		Cache:      latest,
		Alerts:     eng,
		Hub:        hub,
		Archive:    opts.archive,
		Broker:     opts.broker,
		Logger:     logger,
		Now:        func() time.Time { return nine },
	})

	f := &fixture{handler: gw.Handler(), alerts: eng, cache: latest, registry: registry}
	if jwtSecret != "" {
		tok, err := gateway.IssueToken(jwtSecret, "kim", time.Hour, time.Now())
		require.NoError(t, err)
		f.token = tok
	}
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/sessions", map[string]string{"name": "BF2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestSessionFlow(t *testing.T) {
	f := newFixture(t, "")
	id := f.createSession(t)

	t.Run("should 404 latest before any evaluation", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/latest", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should evaluate with default inputs", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{})
		require.Equal(t, http.StatusOK, rec.Code)

		var res pipeline.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, nine, res.EvaluatedAt.UTC())
		assert.Equal(t, "CRITICAL", res.Balance.Status.String())
		assert.Len(t, res.Series, 9)
	})

	t.Run("should serve the latest result", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/latest", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"CRITICAL"`)
	})

	t.Run("should record history", func(t *testing.T) {
		f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{
			"taps": map[string]interface{}{"closed_tap_count": 10, "avg_tap_output_ton": 1250},
		})
		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Entries []map[string]interface{} `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, "NORMAL", resp.Entries[1]["status"])
	})

	t.Run("should export history as csv", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/history.csv", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
		body := rec.Body.String()
		assert.True(t, strings.HasPrefix(body, "\xEF\xBB\xBF"))
		assert.Len(t, strings.Split(strings.TrimSpace(body), "\n"), 3)
	})

	t.Run("should raise a status alert on the first critical evaluation", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/alerts", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, f.alerts.Recent(), 2)
		assert.Contains(t, rec.Body.String(), `"to":"NORMAL"`)
	})

	t.Run("should refuse export without storage", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/sessions/"+id+"/export", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("should reset history", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/sessions/"+id+"/reset", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"entries":0`)
	})

	t.Run("should end the session", func(t *testing.T) {
		rec := f.do(http.MethodDelete, "/api/v1/sessions/"+id, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(http.MethodGet, "/api/v1/sessions/"+id+"/history", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEvaluateValidation(t *testing.T) {
	f := newFixture(t, "")

	t.Run("should list rejected fields", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/evaluate", map[string]interface{}{
			"inputs": map[string]interface{}{"charge_interval_min": 0},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "inputs.charge_interval_min")
	})

	t.Run("should reject a malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject a malformed window time", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/evaluate", map[string]interface{}{
			"abnormal": map[string]interface{}{"window": map[string]string{"start": "25:00", "end": "10:00"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject an unknown session id", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/evaluate", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(http.MethodGet, "/api/v1/sessions/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuth(t *testing.T) {
	f := newFixture(t, secret)

	t.Run("should accept a valid operator token", func(t *testing.T) {
		f.createSession(t)
	})

	t.Run("should reject a missing token", func(t *testing.T) {
		anon := *f
		anon.token = ""
		rec := anon.do(http.MethodPost, "/api/v1/sessions", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		forged, err := gateway.IssueToken("other", "mallory", time.Hour, time.Now())
		require.NoError(t, err)
		bad := *f
		bad.token = forged
		rec := bad.do(http.MethodPost, "/api/v1/evaluate", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		expired, err := gateway.IssueToken(secret, "kim", time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		old := *f
		old.token = expired
		rec := old.do(http.MethodPost, "/api/v1/evaluate", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should leave reads open", func(t *testing.T) {
		anon := *f
		anon.token = ""
		rec := anon.do(http.MethodGet, "/api/v1/alerts", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

// heldSink holds its first call until released, so a test can act while a
// dispatch is still in flight.
type heldSink struct {
	next    sink.Sink
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func holdFirst(next sink.Sink) *heldSink {
	return &heldSink{next: next, held: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldSink) Name() string { return h.next.Name() }

func (h *heldSink) Handle(ctx context.Context, out session.Outcome) error {
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.held)
		<-h.release
	}
	return h.next.Handle(ctx, out)
}

func TestLatestAfterSlowCacheWrite(t *testing.T) {
	t.Run("should not serve a result written back after a reset", func(t *testing.T) {
		var held *heldSink
		f := newFixtureWith(t, "", options{wrapCache: func(c *cache.Latest) sink.Sink {
			held = holdFirst(c)
			return held
		}})
		id := f.createSession(t)

		done := make(chan struct{})
		go func() {
			defer close(done)
			f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{})
		}()
		<-held.held

		rec := f.do(http.MethodPost, "/api/v1/sessions/"+id+"/reset", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		close(held.release)
		<-done

		rec = f.do(http.MethodGet, "/api/v1/sessions/"+id+"/latest", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should keep the newer result when dispatches finish out of order", func(t *testing.T) {
		var held *heldSink
		f := newFixtureWith(t, "", options{wrapCache: func(c *cache.Latest) sink.Sink {
			held = holdFirst(c)
			return held
		}})
		id := f.createSession(t)

		done := make(chan struct{})
		go func() {
			defer close(done)
			f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{})
		}()
		<-held.held

		rec := f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{
			"taps": map[string]interface{}{"closed_tap_count": 10, "avg_tap_output_ton": 1250},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		close(held.release)
		<-done

		rec = f.do(http.MethodGet, "/api/v1/sessions/"+id+"/latest", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"NORMAL"`)
	})
}

func TestSessionEndEvictsCache(t *testing.T) {
	f := newFixture(t, "")
	id := f.createSession(t)
	f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{})

	_, hit, err := f.cache.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, hit)

	rec := f.do(http.MethodDelete, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.registry.Len())

	_, hit, err = f.cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, hit)
}

type fakeArchive struct {
	entries []history.Entry
	err     error
	limit   int
}

func (a *fakeArchive) List(_ context.Context, _ uuid.UUID, limit int) ([]history.Entry, error) {
	a.limit = limit
	return a.entries, a.err
}

func TestArchive(t *testing.T) {
	id := uuid.NewString()

	t.Run("should refuse without an archive", func(t *testing.T) {
		f := newFixture(t, "")
		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/archive", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("should serve archived rows of an ended session", func(t *testing.T) {
		arch := &fakeArchive{entries: []history.Entry{{Timestamp: nine, ResidualTon: 876.46, Status: balance.StatusCritical}}}
		f := newFixtureWith(t, "", options{archive: arch})

		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/archive?limit=20", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 20, arch.limit)
		assert.Contains(t, rec.Body.String(), `"residual_ton":876.5`)
		assert.Contains(t, rec.Body.String(), `"status":"CRITICAL"`)
	})

	t.Run("should cap the limit at the history capacity", func(t *testing.T) {
		arch := &fakeArchive{}
		f := newFixtureWith(t, "", options{archive: arch})
		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/archive?limit=9999", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, history.MaxCapacity, arch.limit)

		rec = f.do(http.MethodGet, "/api/v1/sessions/"+id+"/archive?limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should report an unreachable archive", func(t *testing.T) {
		f := newFixtureWith(t, "", options{archive: &fakeArchive{err: errors.New("connection refused")}})
		rec := f.do(http.MethodGet, "/api/v1/sessions/"+id+"/archive", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

type fakeBroker struct{}

func (fakeBroker) IsConnected() bool { return false }
func (fakeBroker) Reconnects() int64 { return 3 }

func TestHealthReportsSinksAndBroker(t *testing.T) {
	f := newFixtureWith(t, "", options{broker: fakeBroker{}})
	id := f.createSession(t)
	f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{})

	rec := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Breakers map[string]struct {
			State    string `json:"state"`
			Failures int    `json:"failures"`
		} `json:"breakers"`
		Broker struct {
			Connected  bool  `json:"connected"`
			Reconnects int64 `json:"reconnects"`
		} `json:"broker"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "closed", resp.Breakers["cache"].State)
	assert.False(t, resp.Broker.Connected)
	assert.Equal(t, int64(3), resp.Broker.Reconnects)
}

func TestResetSink(t *testing.T) {
	f := newFixture(t, "")

	t.Run("should reject a sink that was never called", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/sinks/cache/reset", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should close the breaker of a known sink", func(t *testing.T) {
		id := f.createSession(t)
		f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{})

		rec := f.do(http.MethodPost, "/api/v1/sinks/cache/reset", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"state":"closed"`)
	})
}

func TestEvaluateRecordsStatusAlerts(t *testing.T) {
	f := newFixture(t, "")
	id := f.createSession(t)

	rec := f.do(http.MethodPost, "/api/v1/sessions/"+id+"/evaluate", map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"to":"CRITICAL"`)
}
