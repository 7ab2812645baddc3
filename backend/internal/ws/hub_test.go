package ws

import (
	"testing"
	"time"
)

func testConn(uid uint64, name string) *Conn {
	return NewConn(nil, nil, uid, name, time.Time{})
}

func drain(c *Conn) []OutboundMessage {
	var out []OutboundMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestToRoomExcludesOriginator(t *testing.T) {
	h := NewHub()
	alice := testConn(1, "alice")
	bob := testConn(2, "bob")
	carol := testConn(3, "carol")
	h.Join(42, alice)
	h.Join(42, bob)
	h.Join(99, carol) // 别的房间，不该收到

	h.ToRoom(42, ServerMessage{Type: "documentEdit", DocumentID: 42, UserID: 1}, alice)

	if got := drain(alice); len(got) != 0 {
		t.Fatalf("originator received %d messages, want 0", len(got))
	}
	got := drain(bob)
	if len(got) != 1 {
		t.Fatalf("bob received %d messages, want 1", len(got))
	}
	if msg, ok := got[0].(ServerMessage); !ok || msg.Type != "documentEdit" {
		t.Fatalf("bob got %+v", got[0])
	}
	if got := drain(carol); len(got) != 0 {
		t.Fatalf("other room received %d messages, want 0", len(got))
	}
}

func TestToRoomIncludesSenderWhenNoExclusion(t *testing.T) {
	h := NewHub()
	alice := testConn(1, "alice")
	bob := testConn(2, "bob")
	h.Join(42, alice)
	h.Join(42, bob)

	// 聊天走这条路径：发送方也要收到带库 id 的回包
	h.ToRoom(42, ChatBroadcastMessage{Type: "chatMessage", ID: 10, DocumentID: 42}, nil)

	if got := drain(alice); len(got) != 1 {
		t.Fatalf("alice received %d messages, want 1", len(got))
	}
	if got := drain(bob); len(got) != 1 {
		t.Fatalf("bob received %d messages, want 1", len(got))
	}
}

func TestToAllReachesEveryConnection(t *testing.T) {
	h := NewHub()
	alice := testConn(1, "alice")
	bob := testConn(2, "bob")
	h.Register(alice)
	h.Register(bob)
	h.Join(42, alice) // 在不在房间里不影响全局广播

	h.ToAll(ActiveUsersMessage{Type: "activeUsers"})

	if got := drain(alice); len(got) != 1 {
		t.Fatalf("alice received %d, want 1", len(got))
	}
	if got := drain(bob); len(got) != 1 {
		t.Fatalf("bob received %d, want 1", len(got))
	}
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	h := NewHub()
	alice := testConn(1, "alice")
	h.Join(42, alice)
	if h.RoomSize(42) != 1 {
		t.Fatalf("room size = %d, want 1", h.RoomSize(42))
	}
	h.Leave(42, alice)
	if h.RoomSize(42) != 0 {
		t.Fatalf("room size = %d, want 0", h.RoomSize(42))
	}
	// 离开后房间广播到不了它
	h.ToRoom(42, ServerMessage{Type: "userJoined"}, nil)
	if got := drain(alice); len(got) != 0 {
		t.Fatalf("left conn received %d messages", len(got))
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	c := testConn(1, "alice")
	for i := 0; i < 100; i++ {
		c.SendMessage_Enqueue(ServerMessage{Type: "typing"})
	}
	// 队列容量之外的消息直接丢弃，绝不阻塞
	if got := drain(c); len(got) != cap(c.send) {
		t.Fatalf("queued %d messages, want %d", len(got), cap(c.send))
	}
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	c := testConn(1, "alice")
	c.closeSend()
	// 不应 panic
	c.SendMessage_Enqueue(ServerMessage{Type: "typing"})
	c.closeSend() // 幂等
}
