package episodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/racelock/veloengine/internal/errs"
)

// RedisCache is an ephemeral cache of in-flight PRE_STATE/INFERENCE blobs
// between their creation and the episode's finalized transition. The
// durable copy always lands in the postgres Store; Redis only spares a
// shadow-loop restart from replaying the whole race card.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisCache{Client: client, TTL: ttl}
}

func cacheKey(episodeID string, artifactType ArtifactType) string {
	return "veloengine:episode:" + episodeID + ":" + string(artifactType)
}

// Put stores a pending artifact's payload under the episode's key, separate
// from the durable Store write.
func (c *RedisCache) Put(ctx context.Context, episodeID string, artifactType ArtifactType, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.StorageIO, "encode cached artifact", err, map[string]any{"episode_id": episodeID})
	}
	if err := c.Client.Set(ctx, cacheKey(episodeID, artifactType), data, c.TTL).Err(); err != nil {
		return errs.Wrap(errs.StorageIO, "cache artifact", err, map[string]any{"episode_id": episodeID})
	}
	return nil
}

// Get returns the cached payload, or nil if absent (cache miss — the caller
// falls back to the durable Store).
func (c *RedisCache) Get(ctx context.Context, episodeID string, artifactType ArtifactType) (map[string]any, error) {
	data, err := c.Client.Get(ctx, cacheKey(episodeID, artifactType)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "read cached artifact", err, map[string]any{"episode_id": episodeID})
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errs.Wrap(errs.StorageIO, "decode cached artifact", err, map[string]any{"episode_id": episodeID})
	}
	return payload, nil
}

// Evict drops an episode's cached artifacts once it finalizes and the
// durable copies are authoritative.
func (c *RedisCache) Evict(ctx context.Context, episodeID string) error {
	keys := []string{
		cacheKey(episodeID, ArtifactPreState),
		cacheKey(episodeID, ArtifactInference),
		cacheKey(episodeID, ArtifactOutcome),
	}
	if err := c.Client.Del(ctx, keys...).Err(); err != nil {
		return errs.Wrap(errs.StorageIO, "evict cached artifacts", err, map[string]any{"episode_id": episodeID})
	}
	return nil
}
