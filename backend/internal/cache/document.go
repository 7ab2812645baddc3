package cache

import (
	"context"
	"errors"
	"math/rand"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	documentBaseTTL     = 10 * time.Minute // 快照缓存基础过期时间
	documentTTLJitter   = 2 * time.Minute  // 随机抖动，防止缓存雪崩
	documentNullTTL     = 5 * time.Minute  // 空值标记的过期时间
	documentNullPayload = "-1"             // 空值标记，防止缓存穿透
)

// DocumentCache 文档快照缓存，payload 是文档记录的 JSON。
// 实现 store.SnapshotCache。
type DocumentCache struct {
	rdb *redis.Client
}

func NewDocumentCache(rdb *redis.Client) *DocumentCache {
	return &DocumentCache{rdb: rdb}
}

func documentTTL() time.Duration {
	return documentBaseTTL + time.Duration(rand.Int63n(int64(documentTTLJitter)))
}

// GetDocument found=true 且 payload=nil 表示命中空值标记（文档确认不存在）。
func (c *DocumentCache) GetDocument(ctx context.Context, docID uint64) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, documentKey(docID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if string(b) == documentNullPayload {
		return nil, true, nil
	}
	return b, true, nil
}

func (c *DocumentCache) SetDocument(ctx context.Context, docID uint64, payload []byte) error {
	return c.rdb.Set(ctx, documentKey(docID), payload, documentTTL()).Err()
}

func (c *DocumentCache) SetDocumentMissing(ctx context.Context, docID uint64) error {
	return c.rdb.Set(ctx, documentKey(docID), documentNullPayload, documentNullTTL).Err()
}

func (c *DocumentCache) InvalidateDocument(ctx context.Context, docID uint64) error {
	return c.rdb.Del(ctx, documentKey(docID)).Err()
}
