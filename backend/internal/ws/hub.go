package ws

import "sync"

// Hub 广播路由：房间内定向扇出 + 全局扇出。
// 房间里存连接而不是 userID：一个用户可开多个标签页/设备，广播要逐连接发。
type Hub struct {
	mu sync.RWMutex
	// docID -> set of connections
	rooms map[uint64]map[*Conn]struct{}
	// 全部在线连接（活跃用户列表、全局摘要广播用）
	conns map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[uint64]map[*Conn]struct{}),
		conns: make(map[*Conn]struct{}),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Join 将连接加入指定文档房间，房间按需创建。
func (h *Hub) Join(docID uint64, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除，空房间即销毁。
func (h *Hub) Leave(docID uint64, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// ToRoom 向房间内广播，exclude 不为 nil 时跳过该连接（通常是发起方）。
func (h *Hub) ToRoom(docID uint64, msg OutboundMessage, exclude *Conn) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		if c != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.SendMessage_Enqueue(msg)
	}
}

// ToAll 向所有在线连接广播，不区分房间。
func (h *Hub) ToAll(msg OutboundMessage) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.SendMessage_Enqueue(msg)
	}
}

// Conns 当前在线连接的快照。
func (h *Hub) Conns() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

// RoomSize 房间内的连接数。
func (h *Hub) RoomSize(docID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}
