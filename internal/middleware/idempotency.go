package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader   = "Idempotency-Key"
	idempotencyReplayed    = "Idempotent-Replayed"
	idempotencyPrefix      = "banking:idempotency:v1:"
	inProgressMarker       = "__in_progress__"
	idempotencyStoreBudget = 2 * time.Second
)

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency replays the stored response of a previously seen
// Idempotency-Key for unsafe methods, so a retried transfer or loan request
// is executed at most once. Keys are scoped to method and path. Server
// errors are not stored and the key is released for a retry.
func Idempotency(cache redis.Cmdable, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		cacheKey := idempotencyCacheKey(c.Method(), c.Path(), key)

		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyStoreBudget)
		defer cancel()

		cached, err := cache.Get(ctx, cacheKey).Result()
		switch {
		case err == nil:
			if cached == inProgressMarker {
				return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
			}
			var stored storedResponse
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				logger.Warn("stored idempotent response unreadable", slog.String("key", key), slog.Any("error", err))
				return fiber.NewError(fiber.StatusConflict, "duplicate request")
			}
			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) {
					continue
				}
				c.Set(header, value)
			}
			c.Set(idempotencyReplayed, "true")
			return c.Status(stored.Status).SendString(stored.Body)
		case !errors.Is(err, redis.Nil):
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		release := func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), idempotencyStoreBudget)
			defer cancel()
			cache.Del(cleanupCtx, cacheKey)
		}

		if err := c.Next(); err != nil {
			// Handler errors carry client faults (4xx) as fiber errors; those are
			// final answers and are stored like any other response.
			var fe *fiber.Error
			if !errors.As(err, &fe) || fe.Code >= fiber.StatusInternalServerError {
				release()
				return err
			}
			return persist(cache, cacheKey, key, storedResponse{
				Status:  fe.Code,
				Body:    fe.Message,
				Headers: map[string]string{fiber.HeaderContentType: fiber.MIMETextPlainCharsetUTF8},
			}, ttl, logger, err)
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			release()
			return nil
		}
		stored := storedResponse{
			Status:  status,
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})
		return persist(cache, cacheKey, key, stored, ttl, logger, nil)
	}
}

func persist(cache redis.Cmdable, cacheKey, key string, stored storedResponse, ttl time.Duration, logger *slog.Logger, result error) error {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyStoreBudget)
	defer cancel()

	payload, err := json.Marshal(stored)
	if err != nil {
		logger.Error("encode idempotent response", slog.String("key", key), slog.Any("error", err))
		cache.Del(ctx, cacheKey)
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
	}
	if err := cache.Set(ctx, cacheKey, payload, ttl).Err(); err != nil {
		logger.Error("persist idempotent response", slog.String("key", key), slog.Any("error", err))
		cache.Del(ctx, cacheKey)
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
	}
	return result
}

func idempotencyCacheKey(method, path, key string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(method) + " " + path + " " + key))
	return idempotencyPrefix + hex.EncodeToString(sum[:])
}
