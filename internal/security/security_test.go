package security

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestCorrelationID(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))

	tests := []struct {
		sent  string
		adopt bool
	}{
		{"cid-123", true},
		{"has space", false},
		{"line\nbreak", false},
		{strings.Repeat("x", maxCorrelationIDLen), true},
		{strings.Repeat("x", maxCorrelationIDLen+1), false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationIDHeader, tt.sent)
		h.ServeHTTP(httptest.NewRecorder(), req)
		if tt.adopt {
			assert.Equal(t, tt.sent, seen)
		} else {
			assert.NotEqual(t, tt.sent, seen)
			assert.Len(t, seen, 36, "replaced by a uuid")
		}
	}

	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Equal(t, "abc", CorrelationIDFromContext(WithCorrelationID(context.Background(), "abc")))
}

func TestAllowlist(t *testing.T) {
	allow, err := ParseAllowlist([]string{"10.0.0.0/8", " 192.168.1.7 ", "", "2001:db8::1"})
	require.NoError(t, err)
	require.Len(t, allow, 3)

	assert.True(t, allow.Allows(net.ParseIP("2001:db8::1")))
	assert.False(t, allow.Allows(net.ParseIP("2001:db8::2")))
	assert.False(t, allow.Allows(nil))

	h := allow.Middleware(okHandler)
	tests := []struct {
		remote string
		want   int
	}{
		{"10.1.2.3:5000", http.StatusNoContent},
		{"192.168.1.7:80", http.StatusNoContent},
		{"192.168.1.8:80", http.StatusForbidden},
		{"not-an-addr", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.remote)
		if tt.want == http.StatusForbidden {
			assert.Equal(t, "forbidden", decodeError(t, rec).Error)
		}
	}

	_, err = ParseAllowlist([]string{"10.0.0.0/99"})
	require.ErrorContains(t, err, "10.0.0.0/99")

	var open Allowlist
	rec := httptest.NewRecorder()
	open.Middleware(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

const amountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount"],
  "properties": {"amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,2})?$"}}
}`

func TestJSONSchemaValidatorMiddleware(t *testing.T) {
	v, err := NewJSONSchemaValidator("amount.json", amountSchema)
	require.NoError(t, err)

	var forwarded string
	h := BodySizeLimit(64)(v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		forwarded = body["amount"]
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"valid", `{"amount":"10.50"}`, http.StatusNoContent, ""},
		{"bad json", `{"amount":`, http.StatusBadRequest, "invalid_json"},
		{"three decimals", `{"amount":"10.505"}`, http.StatusBadRequest, "validation_error"},
		{"extra field", `{"amount":"1","x":1}`, http.StatusBadRequest, "validation_error"},
		{"trailing data", `{"amount":"1"} {}`, http.StatusBadRequest, "invalid_json"},
		{"too large", `{"amount":"` + strings.Repeat("1", 100) + `"}`, http.StatusRequestEntityTooLarge, "payload_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			require.Equal(t, tt.code, rec.Code)
			if tt.err != "" {
				body := decodeError(t, rec)
				assert.Equal(t, tt.err, body.Error)
				if tt.err == "validation_error" {
					assert.NotEmpty(t, body.Message)
				}
			}
		})
	}
	assert.Equal(t, "10.50", forwarded)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"2"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", forwarded)
}

func TestRedisTokenBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	bucket := &RedisTokenBucket{
		Redis:      rdb,
		Prefix:     "rl",
		Capacity:   2,
		RefillRate: 1,
		Now:        func() time.Time { return now },
	}
	ctx := context.Background()

	for want := 1; want >= 0; want-- {
		d, err := bucket.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
	}
	d, err := bucket.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "bucket drained")
	assert.Equal(t, time.Second, d.RetryAfter)

	d, err = bucket.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "buckets are per key")

	now = now.Add(1500 * time.Millisecond)
	d, err = bucket.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "refilled")
	assert.Zero(t, d.RetryAfter)

	assert.True(t, mr.Exists("rl:ip:1.2.3.4"))

	d, err = (&RedisTokenBucket{}).Allow(ctx, "anything")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "an unconfigured bucket never limits")
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bucket := &RedisTokenBucket{Redis: rdb, Capacity: 1, RefillRate: 0.001}
	h := RateLimitMiddleware(bucket, func(r *http.Request) string { return r.Header.Get("X-Key") })(okHandler)

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("a")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	limited := send("a")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "rate_limited", decodeError(t, limited).Error)
	assert.Equal(t, "1000", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("").Code, "unkeyed requests pass")

	mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, send("b").Code)
}
