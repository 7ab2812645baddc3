package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/collab"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/store"
)

// Conn 一条已认证的实时连接。userID/username 建连后不变；
// docID 是当前所在房间，同一时刻最多一个，0 表示不在任何房间。
type Conn struct {
	ws       *websocket.Conn
	gw       *Manager
	userID   uint64
	username string
	lastSeen time.Time
	docID    uint64

	send chan OutboundMessage

	sendMu     sync.RWMutex
	sendClosed bool
}

func NewConn(ws *websocket.Conn, gw *Manager, userID uint64, username string, lastSeen time.Time) *Conn {
	return &Conn{
		ws:       ws,
		gw:       gw,
		userID:   userID,
		username: username,
		lastSeen: lastSeen,
		send:     make(chan OutboundMessage, 32),
	}
}

// SendMessage_Enqueue 非阻塞入队；队列满了就丢，慢消费者不拖住广播。
func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// closeSend 关闭出站队列。必须在连接退出全部房间、从 Hub 注销之后调用，
// 否则并发广播会写到已关闭的通道。
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Conn) sendError(message string) {
	c.SendMessage_Enqueue(ServerMessage{Type: "error", Message: message})
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

// readLoop 逐条处理入站事件直到连接关闭。
// 单条消息的处理错误只回发给本连接的 error 事件，绝不终止连接。
func (c *Conn) readLoop(ctx context.Context) {
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, doc=%d): %v", c.userID, c.docID, err)
			return
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *Conn) handleMessage(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case "joinDocument":
		c.handleJoin(ctx, msg)
	case "leaveDocument":
		c.leaveRoom(ctx)
	case "documentEdit":
		c.handleEdit(ctx, msg)
	case "cursorMove":
		c.handleCursor(ctx, msg)
	case "chatMessage":
		c.handleChat(ctx, msg)
	case "typing":
		c.handleTyping(ctx, msg)
	case "titleChange":
		c.handleTitleChange(ctx, msg)
	case "syncDocument":
		c.handleSync(ctx, msg)
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// handleJoin 加入文档房间。已在别的房间时先完整离开（包括摘除在场记录、
// 通知旧房间），再做新房间的副作用，避免重复或泄漏的在场记录。
func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	docID := msg.DocumentID
	if docID == 0 {
		c.sendError("missing documentId")
		return
	}
	// 重复加入当前所在的房间：只刷新心跳并重发快照给请求方，
	// 不再向同房间广播 userJoined，也不重播摘要。
	if c.docID == docID {
		if err := c.gw.presence.Refresh(ctx, docID, c.userID); err != nil {
			log.Printf("presence refresh failed doc=%d user=%d err=%v", docID, c.userID, err)
		}
		c.sendJoinedSnapshot(ctx, docID)
		return
	}
	if _, err := c.gw.docs.GetDocument(ctx, docID); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			c.sendError("document not found")
			return
		}
		log.Printf("load document failed doc=%d err=%v", docID, err)
		c.sendError("failed to load document")
		return
	}

	if c.docID != 0 && c.docID != docID {
		c.leaveRoom(ctx)
	}

	// 先驱逐同 userID / 同 username 的旧身份再插入，重连不会留下幽灵成员
	if err := c.gw.presence.Join(ctx, docID, c.userID, c.username); err != nil {
		log.Printf("presence join failed doc=%d user=%d err=%v", docID, c.userID, err)
	}
	c.gw.hub.Join(docID, c)
	c.docID = docID

	c.gw.hub.ToRoom(docID, ServerMessage{
		Type:       "userJoined",
		DocumentID: docID,
		UserID:     c.userID,
		Username:   c.username,
	}, c)

	c.sendJoinedSnapshot(ctx, docID)

	c.gw.broadcastDocumentSummary(ctx, docID, "documentUpdated")
}

// sendJoinedSnapshot 把当前在场成员和光标发给本连接。
func (c *Conn) sendJoinedSnapshot(ctx context.Context, docID uint64) {
	members, err := c.gw.presence.Members(ctx, docID)
	if err != nil {
		log.Printf("presence members failed doc=%d err=%v", docID, err)
	}
	cursors, err := c.gw.presence.Cursors(ctx, docID)
	if err != nil {
		log.Printf("presence cursors failed doc=%d err=%v", docID, err)
	}
	if cursors == nil {
		cursors = map[uint64]json.RawMessage{}
	}
	c.SendMessage_Enqueue(DocumentJoinedMessage{
		Type:       "documentJoined",
		DocumentID: docID,
		Presence:   members,
		Cursors:    cursors,
	})
}

// leaveRoom 离开当前房间：摘在场记录、通知房间、向全局重播文档摘要。
// 断开连接和切换房间共用这条路径。
func (c *Conn) leaveRoom(ctx context.Context) {
	docID := c.docID
	if docID == 0 {
		return
	}
	if err := c.gw.presence.Leave(ctx, docID, c.userID); err != nil {
		log.Printf("presence leave failed doc=%d user=%d err=%v", docID, c.userID, err)
	}
	c.gw.hub.Leave(docID, c)
	c.docID = 0

	c.gw.hub.ToRoom(docID, ServerMessage{
		Type:       "userLeft",
		DocumentID: docID,
		UserID:     c.userID,
		Username:   c.username,
	}, c)

	c.gw.broadcastDocumentSummary(ctx, docID, "documentUpdated")
}

// handleEdit 实时编辑：先广播给房间内其他连接（发送方本地已应用，不等回显），
// 再入批处理队列延迟落盘。广播只是提示，最终要和落盘的 version/content 对齐。
func (c *Conn) handleEdit(ctx context.Context, msg ClientMessage) {
	if c.docID == 0 || msg.DocumentID != c.docID {
		c.sendError("join the document before editing")
		return
	}
	if msg.Operation == nil {
		c.sendError("missing operation")
		return
	}

	out := ServerMessage{
		Type:       "documentEdit",
		DocumentID: c.docID,
		UserID:     c.userID,
		Username:   c.username,
		Operation:  msg.Operation,
		Content:    msg.Content,
	}
	if msg.Title != "" {
		out.Title = msg.Title
	}
	c.gw.hub.ToRoom(c.docID, out, c)

	c.gw.batcher.Submit(c.docID, collab.Operation{
		AuthorID:     c.userID,
		Type:         msg.Operation.Type,
		Position:     msg.Operation.Position,
		Content:      msg.Operation.Content,
		Length:       msg.Operation.Length,
		FinalContent: msg.Content,
	})

	if err := c.gw.presence.Refresh(ctx, c.docID, c.userID); err != nil {
		log.Printf("presence refresh failed doc=%d user=%d err=%v", c.docID, c.userID, err)
	}
}

func (c *Conn) handleCursor(ctx context.Context, msg ClientMessage) {
	if c.docID == 0 || msg.DocumentID != c.docID {
		return
	}
	entry, err := json.Marshal(CursorEntry{
		Username:  c.username,
		Cursor:    msg.Cursor,
		UpdatedAt: time.Now().UnixMilli(),
	})
	if err == nil {
		if err := c.gw.presence.SetCursor(ctx, c.docID, c.userID, entry); err != nil {
			log.Printf("set cursor failed doc=%d user=%d err=%v", c.docID, c.userID, err)
		}
	}
	c.gw.hub.ToRoom(c.docID, ServerMessage{
		Type:       "cursorMove",
		DocumentID: c.docID,
		UserID:     c.userID,
		Username:   c.username,
		Cursor:     msg.Cursor,
	}, c)
}

// handleChat 聊天先落库拿 id 和时间戳，广播包含发送方：
// 发送方的乐观本地副本要靠这条带库 id 的回包对齐。
func (c *Conn) handleChat(ctx context.Context, msg ClientMessage) {
	if c.docID == 0 || msg.DocumentID != c.docID {
		c.sendError("join the document before chatting")
		return
	}
	if msg.Message == "" {
		return
	}
	m, err := c.gw.chats.InsertMessage(ctx, c.docID, c.userID, c.username, msg.Message)
	if err != nil {
		log.Printf("insert chat message failed doc=%d user=%d err=%v", c.docID, c.userID, err)
		c.sendError("failed to send message")
		return
	}
	c.gw.hub.ToRoom(c.docID, ChatBroadcastMessage{
		Type:       "chatMessage",
		ID:         m.ID,
		DocumentID: m.DocumentID,
		UserID:     m.UserID,
		Username:   m.Username,
		Message:    m.Message,
		CreatedAt:  m.CreatedAt,
	}, nil)

	c.gw.broadcastDocumentSummary(ctx, c.docID, "documentUpdated")
}

func (c *Conn) handleTyping(ctx context.Context, msg ClientMessage) {
	if c.docID == 0 || msg.DocumentID != c.docID {
		return
	}
	if err := c.gw.presence.SetTyping(ctx, c.docID, c.userID, c.username, msg.IsTyping); err != nil {
		log.Printf("set typing failed doc=%d user=%d err=%v", c.docID, c.userID, err)
	}
	allTyping, err := c.gw.presence.TypingMembers(ctx, c.docID)
	if err != nil {
		log.Printf("typing members failed doc=%d err=%v", c.docID, err)
	}
	c.gw.hub.ToRoom(c.docID, TypingBroadcastMessage{
		Type:       "typing",
		DocumentID: c.docID,
		UserID:     c.userID,
		Username:   c.username,
		IsTyping:   msg.IsTyping,
		TypingType: msg.TypingType,
		AllTyping:  allTyping,
	}, c)
}

// handleTitleChange 标题是无条件 last-write，并发写谁后落库谁生效。
func (c *Conn) handleTitleChange(ctx context.Context, msg ClientMessage) {
	if c.docID == 0 || msg.DocumentID != c.docID {
		c.sendError("join the document before renaming")
		return
	}
	if err := c.gw.docs.UpdateTitle(ctx, c.docID, msg.Title); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			c.sendError("document not found")
			return
		}
		log.Printf("update title failed doc=%d err=%v", c.docID, err)
		c.sendError("failed to update title")
		return
	}
	c.gw.hub.ToRoom(c.docID, ServerMessage{
		Type:       "titleChange",
		DocumentID: c.docID,
		UserID:     c.userID,
		Username:   c.username,
		Title:      msg.Title,
	}, c)

	c.gw.broadcastDocumentSummary(ctx, c.docID, "documentUpdated")
}

// handleSync 追平：权威快照 + 全量操作日志（旧的在前）+ 当前在场状态，只发给请求方。
func (c *Conn) handleSync(ctx context.Context, msg ClientMessage) {
	docID := msg.DocumentID
	if docID == 0 {
		docID = c.docID
	}
	if docID == 0 {
		c.sendError("missing documentId")
		return
	}
	doc, err := c.gw.docs.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			c.sendError("document not found")
			return
		}
		log.Printf("sync load document failed doc=%d err=%v", docID, err)
		c.sendError("failed to sync document")
		return
	}
	ops, err := c.gw.docs.ListOperations(ctx, docID, 0)
	if err != nil {
		log.Printf("sync list operations failed doc=%d err=%v", docID, err)
	}
	members, err := c.gw.presence.Members(ctx, docID)
	if err != nil {
		log.Printf("sync presence members failed doc=%d err=%v", docID, err)
	}
	cursors, err := c.gw.presence.Cursors(ctx, docID)
	if err != nil {
		log.Printf("sync presence cursors failed doc=%d err=%v", docID, err)
	}
	if cursors == nil {
		cursors = map[uint64]json.RawMessage{}
	}
	c.SendMessage_Enqueue(DocumentSyncMessage{
		Type:       "documentSync",
		Document:   doc,
		Operations: ops,
		Presence:   members,
		Cursors:    cursors,
	})
}
