package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/domain"
	"taskboard/projection"
)

type backend interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error)
	ListColumn(ctx context.Context, projectID, status string) ([]domain.Task, error)
	InsertTask(ctx context.Context, revision string, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	ApplyChanges(ctx context.Context, set domain.ChangeSet) error
	LoadBoard(ctx context.Context, projectID string) (*projection.RawBoard, error)
}

// Cache wraps a board store with Redis-backed caching of board reads. Lookups
// used by writers always reach the backing store; every write evicts the board
// and bumps the project's generation so a load that started before the write
// cannot repopulate the cache with the old board.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadBoard(ctx context.Context, projectID string) (*projection.RawBoard, error) {
	if raw, ok := c.loadBoardFromCache(ctx, projectID); ok {
		return raw, nil
	}

	gen, cacheable := c.generation(ctx, projectID)
	raw, err := c.base.LoadBoard(ctx, projectID)
	if err != nil || raw == nil {
		return raw, err
	}

	if cacheable {
		c.storeBoard(ctx, projectID, gen, *raw)
	}
	return raw, nil
}

func (c *Cache) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	return c.base.GetProject(ctx, projectID)
}

func (c *Cache) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	return c.base.GetTask(ctx, projectID, taskID)
}

func (c *Cache) ListColumn(ctx context.Context, projectID, status string) ([]domain.Task, error) {
	return c.base.ListColumn(ctx, projectID, status)
}

func (c *Cache) InsertTask(ctx context.Context, revision string, task domain.Task) error {
	if err := c.base.InsertTask(ctx, revision, task); err != nil {
		return err
	}

	c.evict(ctx, task.ProjectID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, task domain.Task) error {
	if err := c.base.UpdateTask(ctx, task); err != nil {
		return err
	}

	c.evict(ctx, task.ProjectID)
	return nil
}

func (c *Cache) ApplyChanges(ctx context.Context, set domain.ChangeSet) error {
	if err := c.base.ApplyChanges(ctx, set); err != nil {
		return err
	}

	c.evict(ctx, set.ProjectID)
	return nil
}

func (c *Cache) loadBoardFromCache(ctx context.Context, projectID string) (*projection.RawBoard, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(projectID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		}
		return nil, false
	}
	raw, err := projection.DecodeBoard(data)
	if err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		return nil, false
	}
	return &raw, true
}

// generation reads the project's write counter ahead of a store load.
// cacheable is false when the result must not be cached.
func (c *Cache) generation(ctx context.Context, projectID string) (gen string, cacheable bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, boardGenerationKey(projectID)).Result()
	if err == redis.Nil {
		return "", true
	}
	if err != nil {
		return "", false
	}
	return gen, true
}

// storeBoard caches raw unless a write bumped the generation since gen was read.
func (c *Cache) storeBoard(ctx context.Context, projectID, gen string, raw projection.RawBoard) {
	data, err := projection.EncodeBoard(raw)
	if err != nil {
		return
	}
	genKey := boardGenerationKey(projectID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, boardCacheKey(projectID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, projectID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, boardGenerationKey(projectID))
		pipe.Del(ctx, boardCacheKey(projectID))
		return nil
	})
}

func boardCacheKey(projectID string) string {
	return "board:" + projectID
}

func boardGenerationKey(projectID string) string {
	return "board:gen:" + projectID
}
