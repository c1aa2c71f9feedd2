package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"duka/internal/redis"
)

const idempotencyHeader = "Idempotency-Key"

// cachedResponse stores the response for idempotent requests. InFlight marks a key whose
// first request has not finished yet.
type cachedResponse struct {
	InFlight   bool            `json:"in_flight,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Headers    http.Header     `json:"headers,omitempty"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware returns middleware that replays the stored response for a repeated
// Idempotency-Key on the same route. A repeat that arrives while the first request is still
// running gets 409. When the cache is unreachable requests run normally.
func IdempotencyMiddleware(cache redis.CacheStoreInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to mutating methods.
		if cache == nil || (c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut && c.Request.Method != http.MethodPatch) {
			c.Next()
			return
		}

		// Get idempotency key from header.
		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := redis.IdempotencyKey(c.Request.Method+" "+c.Request.URL.Path, key)

		var cached cachedResponse
		hit, err := cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.Next()
			return
		}
		if hit {
			replay(c, &cached)
			return
		}

		claimed, err := cache.SetJSONIfAbsent(ctx, cacheKey, cachedResponse{InFlight: true}, redis.IdempotencyInFlightTTL)
		if err != nil {
			c.Next()
			return
		}
		if !claimed {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		}

		// Wrap response writer to capture response.
		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		// Server errors are not stored so the client can retry with the same key.
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			_ = cache.Invalidate(ctx, cacheKey)
			return
		}
		_ = cache.SetJSON(ctx, cacheKey, cachedResponse{
			StatusCode: status,
			Body:       w.body.Bytes(),
			Headers:    extractResponseHeaders(c),
		}, redis.IdempotencyCacheTTL)
	}
}

func replay(c *gin.Context, cached *cachedResponse) {
	if cached.InFlight {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
		return
	}
	for k, v := range cached.Headers {
		for _, val := range v {
			c.Header(k, val)
		}
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(cached.StatusCode, "application/json", cached.Body)
	c.Abort()
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	// Only cache Content-Type header.
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}
