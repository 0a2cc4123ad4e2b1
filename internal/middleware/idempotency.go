package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"paygate-be/internal/cache"
	"paygate-be/internal/logger"
	"paygate-be/internal/utils"

	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	inFlightTTL       = time.Minute
	maxKeyLength      = 128
)

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*cache.CachedResponse, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, key string, resp cache.CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// captureWriter tees the response so it can be replayed.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the first response of a POST carrying an Idempotency-Key for 24h.
// Keys are scoped per tenant. A store outage degrades to plain processing.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				utils.WriteJSONError(w, "idempotency key too long", http.StatusBadRequest)
				return
			}

			ctx := r.Context()
			log := logger.FromCtx(ctx)

			scope := "anonymous"
			if tenantID, ok := utils.GetTenantIDFromContext(ctx); ok {
				scope = tenantID.String()
			}
			cacheKey := scope + ":" + r.URL.Path + ":" + key

			cached, err := store.Get(ctx, cacheKey)
			if err != nil {
				log.Warn("idempotency lookup failed, processing normally", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				replay(w, cached)
				return
			}

			acquired, err := store.Acquire(ctx, cacheKey, inFlightTTL)
			if err != nil {
				log.Warn("idempotency lock failed, processing normally", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				utils.WriteJSONError(w, "request with this idempotency key is in progress", http.StatusConflict)
				return
			}
			defer func() {
				if err := store.Release(context.WithoutCancel(ctx), cacheKey); err != nil {
					log.Warn("idempotency unlock failed", zap.Error(err))
				}
			}()

			// The previous holder may have saved its response between the lookup and the lock.
			if cached, err := store.Get(ctx, cacheKey); err == nil && cached != nil {
				replay(w, cached)
				return
			}

			rec := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 500 {
				resp := cache.CachedResponse{
					StatusCode:  rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}
				if err := store.Save(context.WithoutCancel(ctx), cacheKey, resp, idempotencyTTL); err != nil {
					log.Warn("idempotency save failed", zap.Error(err))
				}
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *cache.CachedResponse) {
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}
