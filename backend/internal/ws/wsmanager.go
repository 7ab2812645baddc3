package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/cache"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/collab"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/store"
)

// 全局的 WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Manager 会话网关：持有每条连接需要的全部依赖，
// 负责建连、注销和跨房间的全局广播。
type Manager struct {
	hub      *Hub
	presence cache.PresenceCache
	docs     *store.DocumentStore
	users    *store.UserStore
	chats    *store.ChatStore
	batcher  *collab.Batcher
}

func NewManager(hub *Hub, presence cache.PresenceCache, docs *store.DocumentStore, users *store.UserStore, chats *store.ChatStore, batcher *collab.Batcher) *Manager {
	return &Manager{
		hub:      hub,
		presence: presence,
		docs:     docs,
		users:    users,
		chats:    chats,
		batcher:  batcher,
	}
}

// WebSocketConnect gin 处理器。身份由鉴权中间件写入上下文，
// 没有合法令牌的请求到不了这里。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	if userID == 0 || username == "" {
		c.String(http.StatusUnauthorized, "missing identity")
		return
	}

	// last_seen 取登录时刷新的库里值；查不到就降级用建连时刻
	lastSeen := time.Now()
	if u, err := m.users.GetByID(c.Request.Context(), userID); err == nil {
		lastSeen = u.LastSeen
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m, userID, username, lastSeen)

	// 先启动写循环，后续写入 send 通道的消息才能被及时发出
	go wsConn.writeLoop()

	ctx := c.Request.Context()
	m.hub.Register(wsConn)
	m.broadcastActiveUsers(ctx)

	// 读循环阻塞至连接关闭
	wsConn.readLoop(ctx)

	// 断开清理：先做房间侧副作用（摘在场记录、通知房间、重播摘要），
	// 再从全局注销、重播活跃用户，最后才能关闭出站队列
	cleanupCtx := context.Background()
	wsConn.leaveRoom(cleanupCtx)
	m.hub.Unregister(wsConn)
	m.broadcastActiveUsers(cleanupCtx)
	wsConn.closeSend()
}

// broadcastActiveUsers 把全局在线用户列表发给所有连接。
// 同一用户多条连接只出现一次，last_seen 以库里为准。
func (m *Manager) broadcastActiveUsers(ctx context.Context) {
	conns := m.hub.Conns()
	seen := make(map[uint64]struct{}, len(conns))
	var ids []uint64
	for _, c := range conns {
		if _, ok := seen[c.userID]; ok {
			continue
		}
		seen[c.userID] = struct{}{}
		ids = append(ids, c.userID)
	}

	users := make([]ActiveUser, 0, len(ids))
	if rows, err := m.users.ListByIDs(ctx, ids); err == nil {
		for _, u := range rows {
			users = append(users, ActiveUser{ID: u.ID, Username: u.Username, LastSeen: u.LastSeen})
		}
	} else {
		log.Printf("list active users failed err=%v", err)
		// 降级：用连接上缓存的身份
		for _, c := range conns {
			if _, ok := seen[c.userID]; !ok {
				continue
			}
			delete(seen, c.userID)
			users = append(users, ActiveUser{ID: c.userID, Username: c.username, LastSeen: c.lastSeen})
		}
	}

	m.hub.ToAll(ActiveUsersMessage{Type: "activeUsers", Users: users})
}

// broadcastDocumentSummary 房间结构变化（进出、元数据、消息数）时，
// 向所有连接重播文档摘要，维持房间外列表视图的一致。
func (m *Manager) broadcastDocumentSummary(ctx context.Context, docID uint64, eventType string) {
	summary, err := m.documentSummary(ctx, docID)
	if err != nil {
		log.Printf("build document summary failed doc=%d err=%v", docID, err)
		return
	}
	m.hub.ToAll(DocumentSummaryMessage{Type: eventType, Document: summary})
}

func (m *Manager) documentSummary(ctx context.Context, docID uint64) (DocumentSummary, error) {
	doc, err := m.docs.GetDocument(ctx, docID)
	if err != nil {
		return DocumentSummary{}, err
	}
	participants := 0
	if members, err := m.presence.Members(ctx, docID); err == nil {
		participants = len(members)
	} else {
		log.Printf("summary presence members failed doc=%d err=%v", docID, err)
	}
	var messageCount int64
	if n, err := m.chats.CountMessages(ctx, docID); err == nil {
		messageCount = n
	} else {
		log.Printf("summary message count failed doc=%d err=%v", docID, err)
	}
	return DocumentSummary{
		ID:           doc.ID,
		Title:        doc.Title,
		CreatedBy:    doc.CreatedBy,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		Version:      doc.Version,
		Participants: participants,
		MessageCount: messageCount,
	}, nil
}

// DocumentCreated HTTP 侧建好文档后的全局通知（httpapi 调用）。
func (m *Manager) DocumentCreated(ctx context.Context, docID uint64) {
	m.broadcastDocumentSummary(ctx, docID, "documentCreated")
}

// DocumentUpdated HTTP 侧内容/标题更新后的全局通知（httpapi 调用）。
func (m *Manager) DocumentUpdated(ctx context.Context, docID uint64) {
	m.broadcastDocumentSummary(ctx, docID, "documentUpdated")
}
