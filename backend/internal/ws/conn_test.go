package ws

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/cache"
)

func TestRejoinCurrentRoomDoesNotRenotifyPeers(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 9})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("FlushDB error: %v", err)
	}
	t.Cleanup(func() { _ = rdb.FlushDB(context.Background()).Err() })

	presence := cache.NewRedisPresence(rdb, cache.PresenceOptions{})
	hub := NewHub()
	// 重复加入走的是不回库的快捷路径，存储依赖一律不该被碰到
	m := NewManager(hub, presence, nil, nil, nil, nil)
	ctx := context.Background()
	const doc = uint64(42)

	alice := NewConn(nil, m, 1, "alice", time.Time{})
	bob := NewConn(nil, m, 2, "bob", time.Time{})
	for _, u := range []struct {
		conn *Conn
		id   uint64
		name string
	}{{alice, 1, "alice"}, {bob, 2, "bob"}} {
		if err := presence.Join(ctx, doc, u.id, u.name); err != nil {
			t.Fatalf("presence join error: %v", err)
		}
		hub.Register(u.conn)
		hub.Join(doc, u.conn)
		u.conn.docID = doc
	}

	alice.handleJoin(ctx, ClientMessage{Type: "joinDocument", DocumentID: doc})

	// 同房间的人不该再收到一遍 userJoined / 摘要
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("peer received %d messages on rejoin, want 0: %+v", len(got), got)
	}
	got := drain(alice)
	if len(got) != 1 {
		t.Fatalf("requester received %d messages, want documentJoined only: %+v", len(got), got)
	}
	joined, ok := got[0].(DocumentJoinedMessage)
	if !ok || joined.Type != "documentJoined" || joined.DocumentID != doc {
		t.Fatalf("got %+v, want documentJoined snapshot", got[0])
	}
	if len(joined.Presence) != 2 {
		t.Fatalf("snapshot presence = %+v, want both members", joined.Presence)
	}
}
