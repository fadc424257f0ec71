package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tradepost/api/responses"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
	pkgredis "github.com/angelmondragon/tradepost/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

type routeMatcher func(string) bool

type idempotencyRule struct {
	method   string
	matcher  routeMatcher
	critical bool
}

// Money-moving routes keep their records for the longer window.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, matcher: matchTemplate("/api/v1/orders")},
	{method: http.MethodPost, matcher: matchTemplate("/api/v1/orders/{orderId}/coupon")},
	{method: http.MethodPost, matcher: matchTemplate("/api/v1/orders/{orderId}/status")},
	{method: http.MethodPost, matcher: matchTemplate("/api/v1/orders/{orderId}/items/{itemId}/status")},
	{method: http.MethodPost, matcher: matchTemplate("/api/v1/orders/{orderId}/confirm"), critical: true},
	{method: http.MethodPost, matcher: matchTemplate("/api/v1/orders/{orderId}/refunds"), critical: true},
	{method: http.MethodPost, matcher: matchPrefix("/api/v1/refunds/"), critical: true},
	{method: http.MethodPost, matcher: matchPrefix("/api/v1/commissions/")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/v1/shops/", "/payouts"), critical: true},
	{method: http.MethodPost, matcher: matchPrefix("/api/v1/payouts/"), critical: true},
}

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replayed"
	// inflightTTL bounds how long a crashed request blocks its key.
	inflightTTL = 2 * time.Minute
)

type recordState string

const (
	statePending  recordState = "pending"
	stateComplete recordState = "complete"
)

type idempotencyRecord struct {
	State       recordState       `json:"state"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the routes listed in idempotencyRules. A pending record claims the key
// while the first request runs; duplicates arriving meanwhile get a
// retryable conflict. Records are scoped to the caller, method and path.
// Server errors release the key so the caller can retry.
func Idempotency(store pkgredis.IdempotencyStore, standardTTL time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if standardTTL <= 0 {
		standardTTL = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePattern(r), standardTTL)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(buildScope(r), clientKey)

			claimed, err := claim(ctx, store, key, requestHash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(w, r, logg, store, key, requestHash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			status := defaultStatus(rec.status)

			if status >= http.StatusInternalServerError {
				logError(ctx, logg, "release idempotency key", store.Del(context.WithoutCancel(ctx), key))
				return
			}

			record := idempotencyRecord{
				State:       stateComplete,
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logError(ctx, logg, "marshal idempotency record", err)
				return
			}
			logError(ctx, logg, "persist idempotency record", store.Set(context.WithoutCancel(ctx), key, string(payload), ttl))
		})
	}
}

func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string) (bool, error) {
	pending, err := json.Marshal(idempotencyRecord{State: statePending, RequestHash: requestHash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(pending), inflightTTL)
}

func replay(w http.ResponseWriter, r *http.Request, logg *logger.Logger, store pkgredis.IdempotencyStore, key, requestHash string) {
	ctx := r.Context()
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The claim expired between SetNX and Get.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "idempotent request still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State == statePending:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "idempotent request still in progress"))
	default:
		if ct := record.Headers["Content-Type"]; ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set(replayHeader, "true")
		w.WriteHeader(record.Status)
		if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
			_, _ = w.Write(decoded)
		}
	}
}

func buildScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		// mounted above the leaf router the pattern still ends in a wildcard
		if pattern := ctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string, standard time.Duration) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	for _, rule := range idempotencyRules {
		if rule.method != method {
			continue
		}
		if rule.matcher(pattern) {
			if rule.critical {
				return criticalIdempotencyTTL, true
			}
			return standard, true
		}
	}
	return 0, false
}

// matchTemplate compares segment by segment, letting a {param} segment stand
// for any non-empty value. It accepts both chi patterns and raw paths.
func matchTemplate(template string) routeMatcher {
	want := strings.Split(strings.Trim(template, "/"), "/")
	return func(pattern string) bool {
		got := strings.Split(strings.Trim(pattern, "/"), "/")
		if len(got) != len(want) {
			return false
		}
		for i, segment := range want {
			if strings.HasPrefix(segment, "{") {
				if got[i] == "" {
					return false
				}
				continue
			}
			if got[i] != segment {
				return false
			}
		}
		return true
	}
}

func matchPrefix(prefix string) routeMatcher {
	return func(pattern string) bool {
		return strings.HasPrefix(pattern, prefix)
	}
}

func matchPrefixSuffix(prefix, suffix string) routeMatcher {
	return func(pattern string) bool {
		return strings.HasPrefix(pattern, prefix) && strings.HasSuffix(pattern, suffix)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
