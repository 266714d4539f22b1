// Package cache provides the optional Redis-backed embedding cache. Remote
// embedding calls are the slowest part of ingest; caching by model and text
// makes re-ingesting a catalog nearly free.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"hibikido/config"
	"hibikido/core/embed"
	"hibikido/logger"
)

const embeddingTTL = 30 * 24 * time.Hour

// CachedEmbedder wraps an Embedder with a Redis read-through cache. Cache
// errors are logged and treated as misses so Redis being down never blocks
// ingest.
type CachedEmbedder struct {
	inner  embed.Embedder
	client *redis.Client
}

// NewCachedEmbedder connects to Redis and wraps inner. The connection is
// verified with a ping so a bad address fails at startup, not mid-ingest.
func NewCachedEmbedder(cfg config.CacheConfig, inner embed.Embedder) (*CachedEmbedder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	logger.Info("embedding cache connected", logger.String("addr", cfg.Addr))
	return &CachedEmbedder{inner: inner, client: client}, nil
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachedEmbedder) Model() string  { return c.inner.Model() }

// Embed returns the cached vector for text when present, otherwise embeds
// through the inner embedder and stores the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if vec, derr := decodeVector(raw, c.inner.Dimension()); derr == nil {
			return vec, nil
		}
		// A malformed entry is dropped and recomputed.
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		logger.Warn("embedding cache read failed", logger.ErrorField(err))
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, encodeVector(vec), embeddingTTL).Err(); err != nil {
		logger.Warn("embedding cache write failed", logger.ErrorField(err))
	}
	return vec, nil
}

// Close releases the Redis connection.
func (c *CachedEmbedder) Close() error { return c.client.Close() }

// key hashes model and text so arbitrary description text never leaks into
// key space.
func (c *CachedEmbedder) key(text string) string {
	sum := sha1.Sum([]byte(c.inner.Model() + "\x00" + text))
	return "hibikido:embed:" + base64.RawURLEncoding.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte, dimension int) ([]float32, error) {
	if len(raw) != 4*dimension {
		return nil, fmt.Errorf("cached vector has %d bytes, want %d", len(raw), 4*dimension)
	}
	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
