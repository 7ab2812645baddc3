package cache

import (
	"context"
	"testing"

	redis "github.com/redis/go-redis/v9"
)

func TestDocumentCacheRoundTrip(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 9})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("FlushDB error: %v", err)
	}
	t.Cleanup(func() { _ = rdb.FlushDB(context.Background()).Err() })

	c := NewDocumentCache(rdb)
	ctx := context.Background()
	const doc = uint64(7)

	// 未写入：miss
	payload, found, err := c.GetDocument(ctx, doc)
	if err != nil {
		t.Fatalf("GetDocument error: %v", err)
	}
	if found || payload != nil {
		t.Fatalf("expected miss, got found=%t payload=%s", found, payload)
	}

	// 正常快照
	if err := c.SetDocument(ctx, doc, []byte(`{"id":7,"title":"t"}`)); err != nil {
		t.Fatalf("SetDocument error: %v", err)
	}
	payload, found, err = c.GetDocument(ctx, doc)
	if err != nil {
		t.Fatalf("GetDocument error: %v", err)
	}
	if !found || string(payload) != `{"id":7,"title":"t"}` {
		t.Fatalf("got found=%t payload=%s", found, payload)
	}

	// 空值标记：found=true 且 payload=nil
	if err := c.SetDocumentMissing(ctx, doc); err != nil {
		t.Fatalf("SetDocumentMissing error: %v", err)
	}
	payload, found, err = c.GetDocument(ctx, doc)
	if err != nil {
		t.Fatalf("GetDocument error: %v", err)
	}
	if !found || payload != nil {
		t.Fatalf("null marker: got found=%t payload=%s", found, payload)
	}

	// 失效后回到 miss
	if err := c.InvalidateDocument(ctx, doc); err != nil {
		t.Fatalf("InvalidateDocument error: %v", err)
	}
	_, found, err = c.GetDocument(ctx, doc)
	if err != nil {
		t.Fatalf("GetDocument error: %v", err)
	}
	if found {
		t.Fatalf("expected miss after invalidate")
	}
}
