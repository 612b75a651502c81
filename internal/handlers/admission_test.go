package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/decisions"
	"github.com/serroba/admission/internal/handlers"
	"github.com/serroba/admission/internal/messaging"
	"github.com/serroba/admission/internal/middleware"
	"github.com/serroba/admission/internal/ratelimit"
	"github.com/serroba/admission/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Unix(1_700_000_000, 0)

type fixture struct {
	handler   *handlers.AdmissionHandler
	mr        *miniredis.Miniredis
	clock     *clock.Manual
	published []*decisions.Decision
	watched   []ratelimit.Identity
}

type watcherFunc func(id ratelimit.Identity, window time.Duration) error

func (f watcherFunc) Watch(id ratelimit.Identity, window time.Duration) error {
	return f(id, window)
}

func newFixture(t *testing.T, limitPerSecond int64, publishErr error) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := store.Open(context.Background(), store.Config{Addr: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{mr: mr, clock: clock.NewManual(start)}

	set, err := ratelimit.NewSet(s, ratelimit.Config{LimitPerSecond: limitPerSecond}, ratelimit.WithClock(f.clock))
	require.NoError(t, err)

	var publish messaging.Publish[decisions.Decision] = func(_ context.Context, d *decisions.Decision) error {
		f.published = append(f.published, d)

		return publishErr
	}

	watch := watcherFunc(func(id ratelimit.Identity, _ time.Duration) error {
		f.watched = append(f.watched, id)

		return nil
	})

	f.handler = handlers.NewAdmissionHandler(set, set.LeakyBucket(), publish, zap.NewNop(),
		handlers.WithWatcher(watch), handlers.WithHandlerClock(f.clock))

	return f
}

func recordRequest(alg ratelimit.Algorithm, windowSeconds int64) *handlers.RecordRequest {
	req := &handlers.RecordRequest{Algorithm: string(alg)}
	req.Body = handlers.IdentityBody{Prefix: "api", Resource: "orders", Subject: "andy", WindowSeconds: windowSeconds}

	return req
}

func usageRequest(alg ratelimit.Algorithm, windowSeconds int64) *handlers.UsageRequest {
	return &handlers.UsageRequest{
		Algorithm:     string(alg),
		Prefix:        "api",
		Resource:      "orders",
		Subject:       "andy",
		WindowSeconds: windowSeconds,
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()

	var se huma.StatusError

	require.ErrorAs(t, err, &se)

	return se.GetStatus()
}

func TestAdmissionHandler_Record(t *testing.T) {
	t.Run("admits up to capacity then denies", func(t *testing.T) {
		f := newFixture(t, 2, nil)

		for i := 0; i < 2; i++ {
			resp, err := f.handler.Record(context.Background(), recordRequest(ratelimit.TokenBucketAlgorithm, 1))
			require.NoError(t, err)
			assert.True(t, resp.Body.Allowed, "record %d should be allowed", i+1)
		}

		resp, err := f.handler.Record(context.Background(), recordRequest(ratelimit.TokenBucketAlgorithm, 1))
		require.NoError(t, err)
		assert.False(t, resp.Body.Allowed)
	})

	t.Run("publishes every decision", func(t *testing.T) {
		f := newFixture(t, 1, nil)

		ctx := middleware.ContextWithRequestMeta(context.Background(), middleware.ClientMeta{ClientIP: "203.0.113.7"})

		_, err := f.handler.Record(ctx, recordRequest(ratelimit.FixedWindowAlgorithm, 1))
		require.NoError(t, err)

		_, err = f.handler.Record(ctx, recordRequest(ratelimit.FixedWindowAlgorithm, 1))
		require.NoError(t, err)

		require.Len(t, f.published, 2)

		first := f.published[0]
		assert.Equal(t, "fixed-window", first.Algorithm)
		assert.Equal(t, "api", first.Prefix)
		assert.Equal(t, "orders", first.Resource)
		assert.Equal(t, "andy", first.Subject)
		assert.Equal(t, int64(1), first.WindowSeconds)
		assert.True(t, first.Allowed)
		assert.Equal(t, start.UTC(), first.DecidedAt)
		assert.Equal(t, "203.0.113.7", first.ClientIP)

		assert.False(t, f.published[1].Allowed)

		assert.NotEqual(t, uuid.Nil, first.ID)
		assert.NotEqual(t, first.ID, f.published[1].ID, "every decision gets its own id")
	})

	t.Run("publish failure does not fail the decision", func(t *testing.T) {
		f := newFixture(t, 1, errors.New("stream down"))

		resp, err := f.handler.Record(context.Background(), recordRequest(ratelimit.SlidingLogAlgorithm, 1))
		require.NoError(t, err)
		assert.True(t, resp.Body.Allowed)
	})

	t.Run("watches admitted leaky bucket identities only", func(t *testing.T) {
		f := newFixture(t, 1, nil)

		_, err := f.handler.Record(context.Background(), recordRequest(ratelimit.LeakyBucketAlgorithm, 1))
		require.NoError(t, err)

		_, err = f.handler.Record(context.Background(), recordRequest(ratelimit.LeakyBucketAlgorithm, 1))
		require.NoError(t, err)

		_, err = f.handler.Record(context.Background(), recordRequest(ratelimit.SlidingWindowAlgorithm, 1))
		require.NoError(t, err)

		require.Len(t, f.watched, 1)
		assert.Equal(t, "andy", f.watched[0].Subject)
	})

	t.Run("unknown algorithm is not found", func(t *testing.T) {
		f := newFixture(t, 1, nil)

		_, err := f.handler.Record(context.Background(), recordRequest("gcra", 1))

		assert.Equal(t, http.StatusNotFound, statusOf(t, err))
		assert.Empty(t, f.published)
	})

	t.Run("invalid window is a bad request", func(t *testing.T) {
		f := newFixture(t, 1, nil)

		_, err := f.handler.Record(context.Background(), recordRequest(ratelimit.FixedWindowAlgorithm, 0))

		assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	})

	t.Run("store failure is an internal error", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		f.mr.SetError("ERR simulated failure")

		_, err := f.handler.Record(context.Background(), recordRequest(ratelimit.FixedWindowAlgorithm, 1))

		assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))
	})
}

func TestAdmissionHandler_Usage(t *testing.T) {
	t.Run("reports consumed units", func(t *testing.T) {
		f := newFixture(t, 5, nil)

		for iter := 0; iter < 3; iter++ {
			_, err := f.handler.Record(context.Background(), recordRequest(ratelimit.FixedWindowAlgorithm, 1))
			require.NoError(t, err)
		}

		resp, err := f.handler.Usage(context.Background(), usageRequest(ratelimit.FixedWindowAlgorithm, 1))
		require.NoError(t, err)
		assert.Equal(t, int64(3), resp.Body.Count)
	})

	t.Run("reports remaining tokens for the token bucket", func(t *testing.T) {
		f := newFixture(t, 5, nil)

		_, err := f.handler.Record(context.Background(), recordRequest(ratelimit.TokenBucketAlgorithm, 1))
		require.NoError(t, err)

		resp, err := f.handler.Usage(context.Background(), usageRequest(ratelimit.TokenBucketAlgorithm, 1))
		require.NoError(t, err)
		assert.Equal(t, int64(4), resp.Body.Count)
	})

	t.Run("unknown algorithm is not found", func(t *testing.T) {
		f := newFixture(t, 1, nil)

		_, err := f.handler.Usage(context.Background(), usageRequest("gcra", 1))

		assert.Equal(t, http.StatusNotFound, statusOf(t, err))
	})
}

func TestAdmissionHandler_Allow(t *testing.T) {
	f := newFixture(t, 1, nil)

	resp, err := f.handler.Allow(context.Background(), usageRequest(ratelimit.SlidingLogAlgorithm, 1))
	require.NoError(t, err)
	assert.True(t, resp.Body.Allowed)

	// A pre-check never consumes capacity.
	resp, err = f.handler.Allow(context.Background(), usageRequest(ratelimit.SlidingLogAlgorithm, 1))
	require.NoError(t, err)
	assert.True(t, resp.Body.Allowed)

	_, err = f.handler.Record(context.Background(), recordRequest(ratelimit.SlidingLogAlgorithm, 1))
	require.NoError(t, err)

	resp, err = f.handler.Allow(context.Background(), usageRequest(ratelimit.SlidingLogAlgorithm, 1))
	require.NoError(t, err)
	assert.False(t, resp.Body.Allowed)

	_, err = f.handler.Allow(context.Background(), usageRequest(ratelimit.SlidingLogAlgorithm, 0))
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestAdmissionHandler_Leak(t *testing.T) {
	f := newFixture(t, 1, nil)

	_, err := f.handler.Record(context.Background(), recordRequest(ratelimit.LeakyBucketAlgorithm, 1))
	require.NoError(t, err)

	leakReq := &handlers.LeakRequest{Body: recordRequest(ratelimit.LeakyBucketAlgorithm, 1).Body}

	resp, err := f.handler.Leak(context.Background(), leakReq)
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp.Body.Removed, "current window markers stay")

	// Only the engine clock moves, so the queue has not expired yet.
	f.clock.Advance(time.Second)

	resp, err = f.handler.Leak(context.Background(), leakReq)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Body.Removed)

	leakReq.Body.WindowSeconds = 0
	_, err = f.handler.Leak(context.Background(), leakReq)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestRegisterRoutes(t *testing.T) {
	f := newFixture(t, 1, nil)

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("Test", "1.0.0"))
	handlers.RegisterRoutes(api, f.handler)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		return w
	}

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		return w
	}

	body := `{"prefix":"api","resource":"orders","subject":"andy","windowSeconds":1}`
	query := "?prefix=api&resource=orders&subject=andy&windowSeconds=1"

	w := post("/v1/limits/fixed-window/record", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":true`)

	w = post("/v1/limits/fixed-window/record", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)

	w = get("/v1/limits/fixed-window/usage" + query)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = get("/v1/limits/fixed-window/allow" + query)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)

	w = post("/v1/limits/leaky-bucket/leak", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":0`)

	assert.Equal(t, http.StatusNotFound, post("/v1/limits/gcra/record", body).Code)
	assert.Equal(t, http.StatusBadRequest,
		post("/v1/limits/fixed-window/record", `{"prefix":"api","resource":"orders","subject":"andy","windowSeconds":0}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get("/v1/limits/fixed-window/usage?prefix=api").Code)
}
