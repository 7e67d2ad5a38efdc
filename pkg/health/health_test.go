package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h *Health, path string) (int, Status) {
	t.Helper()
	r := gin.New()
	h.Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func runN(p *checker, n int) {
	for range n {
		p.run(context.Background())
	}
}

func TestLive(t *testing.T) {
	tests := []struct {
		name      string
		check     CheckFunc
		runs      int
		wantCode  int
		wantCheck string
	}{
		{name: "no checks", wantCode: http.StatusOK},
		{name: "passing", check: passing, runs: 3, wantCode: http.StatusOK},
		{name: "below threshold", check: failing("temporary"), runs: 2, wantCode: http.StatusOK},
		{name: "failing", check: failing("connection refused"), runs: 3, wantCode: http.StatusServiceUnavailable, wantCheck: "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			if tt.check != nil {
				h.AddLivenessCheck("db", time.Second, tt.check)
				runN(h.liveness[0], tt.runs)
			}

			code, body := serve(t, h, "/livez")
			assert.Equal(t, tt.wantCode, code)
			if tt.wantCheck == "" {
				assert.Equal(t, "ok", body.Status)
				assert.Empty(t, body.Checks)
				return
			}
			assert.Equal(t, "unhealthy", body.Status)
			assert.Equal(t, tt.wantCheck, body.Checks["db"])
		})
	}
}

func TestReady(t *testing.T) {
	t.Run("not marked ready", func(t *testing.T) {
		h := New()
		code, body := serve(t, h, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "_readiness")
		assert.False(t, h.IsReady())
	})

	t.Run("ready and passing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, PingCheck(pinger{}))
		h.SetReady(true)
		runN(h.readiness[0], 1)

		code, body := serve(t, h, "/readyz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
		assert.True(t, h.IsReady())
	})

	t.Run("draining", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		h.SetReady(false)
		code, _ := serve(t, h, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("one checker failing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("cache", time.Second, passing)
		h.AddReadinessCheck("postgres", time.Second, PingCheck(pinger{err: errors.New("dial tcp: refused")}))
		h.SetReady(true)
		runN(h.readiness[0], 3)
		runN(h.readiness[1], 3)

		code, body := serve(t, h, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.NotContains(t, body.Checks, "cache")
		assert.Contains(t, body.Checks["postgres"], "refused")
		assert.False(t, h.IsReady())
	})
}

func TestCheckerRecovers(t *testing.T) {
	var (
		mu   sync.Mutex
		fail = true
	)
	p := newChecker("flaky", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("down")
		}
		return nil
	})

	runN(p, 3)
	assert.Equal(t, "down", p.failure())

	mu.Lock()
	fail = false
	mu.Unlock()
	runN(p, 1)
	assert.Empty(t, p.failure())
}

func TestStartAndStop(t *testing.T) {
	h := New()
	calls := make(chan struct{}, 16)
	h.AddLivenessCheck("tick", time.Second, func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("checker did not run")
	}
	h.Stop()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestGCMaxPauseCheck(t *testing.T) {
	require.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
