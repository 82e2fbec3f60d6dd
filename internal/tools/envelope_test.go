package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

const classificationJSON = `{"hts_code":"8517.12.00","description":"Telephones for cellular networks","general_duty":"Free","updated_at":"2026-01-02T00:00:00Z"}`

func countingBackend(body string, err error) (Backend, *int32) {
	var calls int32
	return BackendFunc(func(ctx context.Context, facet model.Facet, args Args) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		if err != nil {
			return nil, err
		}
		return []byte(body), nil
	}), &calls
}

func TestEnvelopeSuccess(t *testing.T) {
	backend, calls := countingBackend(classificationJSON, nil)
	env := NewEnvelope(backend, logger.NewNop())

	res := env.Invoke(context.Background(), model.FacetClassification, Args{"hts_code": "8517.12.00"})

	require.True(t, res.Success)
	c, ok := res.Data.(*ClassificationPayload)
	require.True(t, ok)
	assert.Equal(t, "8517.12.00", c.HTSCode)
	assert.Equal(t, "Free", c.GeneralDuty)
	assert.EqualValues(t, 1, *calls)
}

func TestEnvelopeCacheHitBypassesBackend(t *testing.T) {
	backend, calls := countingBackend(classificationJSON, nil)
	env := NewEnvelope(backend, logger.NewNop(), WithCache(NewMemoryCache(), time.Minute))
	args := Args{"hts_code": "8517.12.00"}

	first := env.Invoke(context.Background(), model.FacetClassification, args)
	second := env.Invoke(context.Background(), model.FacetClassification, args)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 1, *calls)
}

func TestEnvelopeFailuresAreNotCached(t *testing.T) {
	backend, calls := countingBackend("", &StatusError{StatusCode: http.StatusBadGateway})
	env := NewEnvelope(backend, logger.NewNop(), WithCache(NewMemoryCache(), time.Minute))

	for i := 0; i < 2; i++ {
		res := env.Invoke(context.Background(), model.FacetSanctions, Args{"lane_id": "CN-US"})
		assert.False(t, res.Success)
		assert.Equal(t, "sanctions service returned HTTP 502", res.Error)
	}
	assert.EqualValues(t, 2, *calls)
}

func TestEnvelopeTimeout(t *testing.T) {
	backend := BackendFunc(func(ctx context.Context, facet model.Facet, args Args) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	env := NewEnvelope(backend, logger.NewNop(), WithTimeout(20*time.Millisecond))

	res := env.Invoke(context.Background(), model.FacetRefusals, nil)

	assert.False(t, res.Success)
	assert.Equal(t, "refusals lookup timed out after 20ms", res.Error)
}

func TestEnvelopeIgnoresBlockingBackend(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	backend := BackendFunc(func(ctx context.Context, facet model.Facet, args Args) ([]byte, error) {
		<-release
		return nil, nil
	})
	env := NewEnvelope(backend, logger.NewNop(), WithTimeout(10*time.Millisecond))

	res := env.Invoke(context.Background(), model.FacetRulings, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestEnvelopeRecoversPanic(t *testing.T) {
	backend := BackendFunc(func(ctx context.Context, facet model.Facet, args Args) ([]byte, error) {
		panic("nil map")
	})
	env := NewEnvelope(backend, logger.NewNop())

	res := env.Invoke(context.Background(), model.FacetSanctions, nil)

	assert.False(t, res.Success)
	assert.Equal(t, "sanctions lookup failed unexpectedly", res.Error)
}

func TestEnvelopeNormalizesErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want string
	}{
		{name: "malformed", body: `{"hts_code":`, want: "classification service returned a malformed response"},
		{name: "missing code", body: `{"description":"x"}`, want: "classification service returned a malformed response"},
		{name: "transport", err: errors.New("connection refused"), want: "classification lookup failed: connection refused"},
		{name: "canceled", err: context.Canceled, want: "classification lookup canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, _ := countingBackend(tt.body, tt.err)
			res := NewEnvelope(backend, logger.NewNop()).Invoke(context.Background(), model.FacetClassification, nil)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error)
		})
	}
}

func TestEnvelopeUnknownTool(t *testing.T) {
	backend, calls := countingBackend(classificationJSON, nil)

	res := NewEnvelope(backend, logger.NewNop()).Invoke(context.Background(), model.Facet("weather"), nil)

	assert.False(t, res.Success)
	assert.Zero(t, *calls)
}

func TestCacheKeyIsOrderIndependent(t *testing.T) {
	a := CacheKey(model.FacetRefusals, Args{"hts_code": "8517.12.00", "lane_id": "CN-US"})
	b := CacheKey(model.FacetRefusals, Args{"lane_id": "CN-US", "hts_code": "8517.12.00"})
	c := CacheKey(model.FacetSanctions, Args{"lane_id": "CN-US", "hts_code": "8517.12.00"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"), time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Purge())
}

func TestBoltCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "tools.db")
	c, err := OpenBoltCache(path)
	require.NoError(t, err)
	defer c.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", []byte(classificationJSON), time.Hour)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, classificationJSON, string(v))

	now = now.Add(2 * time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/classification":
			_, _ = w.Write([]byte(classificationJSON))
		case "/sanctions":
			_, _ = w.Write([]byte(`{"success":true,"data":{"matches":[],"updated_at":"2026-01-02T00:00:00Z"}}`))
		case "/refusals":
			_, _ = w.Write([]byte(`{"success":false,"error":"quota exhausted"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	backend := NewHTTPBackend(HTTPConfig{
		Endpoints: map[model.Facet]string{
			model.FacetClassification: srv.URL + "/classification",
			model.FacetSanctions:      srv.URL + "/sanctions",
			model.FacetRefusals:       srv.URL + "/refusals",
			model.FacetRulings:        srv.URL + "/rulings",
		},
		APIKey:        "secret",
		RatePerSecond: 100,
		Burst:         4,
	})
	env := NewEnvelope(backend, logger.NewNop())
	ctx := context.Background()

	res := env.Invoke(ctx, model.FacetClassification, Args{"hts_code": "8517.12.00"})
	assert.True(t, res.Success)

	res = env.Invoke(ctx, model.FacetSanctions, Args{"lane_id": "CN-US"})
	require.True(t, res.Success)
	assert.Empty(t, res.Data.(*SanctionsPayload).Matches)

	res = env.Invoke(ctx, model.FacetRefusals, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "refusals lookup failed: tool reported failure: quota exhausted", res.Error)

	res = env.Invoke(ctx, model.FacetRulings, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "rulings service returned HTTP 503", res.Error)
}

func TestArgsFor(t *testing.T) {
	assert.Equal(t, Args{"hts_code": "8517.12.00"}, ArgsFor(model.FacetClassification, "acme", "8517.12.00", "CN-US"))
	assert.Equal(t, Args{"client_id": "acme", "lane_id": "CN-US"}, ArgsFor(model.FacetSanctions, "acme", "8517.12.00", "CN-US"))
}
