package security

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenBucket keeps one token bucket per key in a redis hash, so every ledgerd replica draws
// from the same buckets.
type RedisTokenBucket struct {
	Redis      redis.Scripter
	Prefix     string
	Capacity   int
	RefillRate float64 // tokens per second
	Now        func() time.Time
}

// Decision is the outcome of taking one token.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

var errBadScriptReply = errors.New("rate limiter: unexpected script reply")

// takeToken refills by elapsed time, takes a token when one is whole, and reports how long until
// the next one.
var takeToken = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', now)
redis.call('EXPIRE', KEYS[1], math.ceil(capacity / rate) + 1)
return {allowed, math.floor(tokens), wait_ms}
`)

// Allow takes a token from the bucket named key. A bucket without redis or with a non-positive
// capacity or rate never limits.
func (b *RedisTokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	if b.Redis == nil || b.Capacity <= 0 || b.RefillRate <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	if b.Prefix != "" {
		key = b.Prefix + ":" + key
	}

	seconds := float64(now().UnixNano()) / float64(time.Second)
	reply, err := takeToken.Run(ctx, b.Redis, []string{key}, b.Capacity, b.RefillRate, seconds).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(reply) != 3 {
		return Decision{}, errBadScriptReply
	}
	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  int(reply[1]),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

// RateLimitMiddleware answers 429 with Retry-After once the bucket for keyFn(r) is empty, and 503
// when redis cannot be reached. Requests keyFn cannot name pass through.
func RateLimitMiddleware(b *RedisTokenBucket, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			d, err := b.Allow(r.Context(), key)
			if err != nil {
				WriteError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable", "")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int((d.RetryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
