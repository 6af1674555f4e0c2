package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// FeedCacheSize is the number of newest activities kept in the feed cache.
const FeedCacheSize = 100

// BoardCache wraps a BoardStorage with a Redis copy of each board and its ETag.
// Writes evict the cached copy, including failed conditional writes, so a
// conflict retry always reloads from the table.
type BoardCache struct {
	domain.BoardStorage
	redis *redis.Client
	ttl   time.Duration
}

type cachedBoard struct {
	Board domain.Board `json:"board"`
	ETag  string       `json:"etag"`
}

// NewBoardCache creates a caching wrapper using the provided Redis client and TTL.
func NewBoardCache(base domain.BoardStorage, client *redis.Client, ttl time.Duration) *BoardCache {
	if base == nil {
		panic("storage.NewBoardCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &BoardCache{BoardStorage: base, redis: client, ttl: ttl}
}

func (c *BoardCache) LoadBoard(ctx context.Context, boardID string) (domain.Board, string, error) {
	if b, etag, ok := c.load(ctx, boardID); ok {
		return b, etag, nil
	}
	b, etag, err := c.BoardStorage.LoadBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, "", err
	}
	c.store(ctx, b, etag)
	return b, etag, nil
}

func (c *BoardCache) SaveBoard(ctx context.Context, prev, next domain.Board, etag string) error {
	err := c.BoardStorage.SaveBoard(ctx, prev, next, etag)
	c.evict(ctx, next.ID)
	return err
}

func (c *BoardCache) DeleteBoard(ctx context.Context, b domain.Board) error {
	err := c.BoardStorage.DeleteBoard(ctx, b)
	c.evict(ctx, b.ID)
	return err
}

func (c *BoardCache) load(ctx context.Context, boardID string) (domain.Board, string, bool) {
	if c.redis == nil {
		return domain.Board{}, "", false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return domain.Board{}, "", false
	}
	var cb cachedBoard
	if err := json.Unmarshal(data, &cb); err != nil || cb.ETag == "" {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.Board{}, "", false
	}
	return cb.Board, cb.ETag, true
}

func (c *BoardCache) store(ctx context.Context, b domain.Board, etag string) {
	if c.redis == nil || c.ttl == 0 || etag == "" {
		return
	}
	data, err := json.Marshal(cachedBoard{Board: b, ETag: etag})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(b.ID), data, c.ttl).Err()
}

func (c *BoardCache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(boardID)).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}

type feedBackend interface {
	RecentActivities(ctx context.Context, userID string, limit, offset int) ([]domain.Activity, error)
}

// CachedFeed is the cached head of a user's activity feed. Complete is set
// when the feed holds fewer than FeedCacheSize entries in total.
type CachedFeed struct {
	Version    int               `json:"version"`
	CachedAt   time.Time         `json:"cachedAt"`
	Complete   bool              `json:"complete"`
	Activities []domain.Activity `json:"activities"`
}

// FeedCache serves activity pages from the cached feed head when possible.
type FeedCache struct {
	base  feedBackend
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

func NewFeedCache(base feedBackend, client *redis.Client, ttl time.Duration) *FeedCache {
	if base == nil {
		panic("storage.NewFeedCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &FeedCache{base: base, redis: client, ttl: ttl, now: time.Now}
}

func (c *FeedCache) RecentActivities(ctx context.Context, userID string, limit, offset int) ([]domain.Activity, error) {
	if offset+limit > FeedCacheSize {
		return c.base.RecentActivities(ctx, userID, limit, offset)
	}
	feed, ok := c.load(ctx, userID)
	if !ok {
		items, err := c.Refresh(ctx, userID)
		if items == nil {
			return nil, err
		}
		feed = CachedFeed{Activities: items, Complete: len(items) < FeedCacheSize}
	}
	if offset+limit > len(feed.Activities) && !feed.Complete {
		return c.base.RecentActivities(ctx, userID, limit, offset)
	}
	return page(feed.Activities, limit, offset), nil
}

// Refresh reloads the feed head of userID from the table into Redis. When
// only the Redis write fails the loaded items are returned with the error.
func (c *FeedCache) Refresh(ctx context.Context, userID string) ([]domain.Activity, error) {
	items, err := c.base.RecentActivities(ctx, userID, FeedCacheSize, 0)
	if err != nil {
		return nil, err
	}
	if c.redis == nil || c.ttl == 0 {
		return items, nil
	}
	data, err := json.Marshal(CachedFeed{
		Version:    1,
		CachedAt:   c.now().UTC(),
		Complete:   len(items) < FeedCacheSize,
		Activities: items,
	})
	if err == nil {
		err = c.redis.Set(ctx, FeedCacheKey(userID), data, c.ttl).Err()
	}
	return items, err
}

func (c *FeedCache) load(ctx context.Context, userID string) (CachedFeed, bool) {
	if c.redis == nil {
		return CachedFeed{}, false
	}
	data, err := c.redis.Get(ctx, FeedCacheKey(userID)).Bytes()
	if err != nil {
		return CachedFeed{}, false
	}
	var feed CachedFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		_ = c.redis.Del(ctx, FeedCacheKey(userID)).Err()
		return CachedFeed{}, false
	}
	return feed, true
}

func page(items []domain.Activity, limit, offset int) []domain.Activity {
	if offset >= len(items) {
		return []domain.Activity{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return append([]domain.Activity(nil), items[offset:end]...)
}

// FeedCacheKey is the Redis key of the feed head of userID.
func FeedCacheKey(userID string) string {
	return "feed:" + userID
}
