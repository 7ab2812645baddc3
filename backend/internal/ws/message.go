package ws

import (
	"encoding/json"
	"time"

	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/cache"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/store"
)

// EditOperation 一条编辑操作的线上表示。
type EditOperation struct {
	Type     string `json:"type"` // insert / delete / retain
	Position int    `json:"position"`
	Content  string `json:"content,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// ClientMessage 入站消息统一信封，type 是事件名。
type ClientMessage struct {
	Type       string          `json:"type"`
	DocumentID uint64          `json:"documentId,omitempty"`
	Title      string          `json:"title,omitempty"`
	Operation  *EditOperation  `json:"operation,omitempty"`
	Content    string          `json:"content,omitempty"` // documentEdit：该操作之后的文档全文
	Cursor     json.RawMessage `json:"cursor,omitempty"`  // {x, y, position}，原样透传
	Message    string          `json:"message,omitempty"`
	IsTyping   bool            `json:"isTyping,omitempty"`
	TypingType string          `json:"typingType,omitempty"` // chat | editor
}

// OutboundMessage 出站消息接口，写循环按 JSON 整体发出。
type OutboundMessage interface {
	MessageType() string
}

// ServerMessage 通用出站消息（userJoined/userLeft/documentEdit/cursorMove/titleChange/error）。
type ServerMessage struct {
	Type       string          `json:"type"`
	DocumentID uint64          `json:"documentId,omitempty"`
	UserID     uint64          `json:"userId,omitempty"`
	Username   string          `json:"username,omitempty"`
	Operation  *EditOperation  `json:"operation,omitempty"`
	Content    string          `json:"content,omitempty"`
	Title      string          `json:"title,omitempty"`
	Cursor     json.RawMessage `json:"cursor,omitempty"`
	Message    string          `json:"message,omitempty"` // error 文本
}

// DocumentJoinedMessage 加入房间的应答：当前在场成员和光标。
type DocumentJoinedMessage struct {
	Type       string                     `json:"type"` // 固定 "documentJoined"
	DocumentID uint64                     `json:"documentId"`
	Presence   []cache.PresenceMember     `json:"presence"`
	Cursors    map[uint64]json.RawMessage `json:"cursors"`
}

// ChatBroadcastMessage 聊天广播，带库分配的 id 和时间戳，发送方也会收到。
type ChatBroadcastMessage struct {
	Type       string    `json:"type"` // 固定 "chatMessage"
	ID         uint64    `json:"id"`
	DocumentID uint64    `json:"documentId"`
	UserID     uint64    `json:"userId"`
	Username   string    `json:"username"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TypingBroadcastMessage 正在输入状态，allTyping 是当前仍新鲜的完整列表。
type TypingBroadcastMessage struct {
	Type       string               `json:"type"` // 固定 "typing"
	DocumentID uint64               `json:"documentId"`
	UserID     uint64               `json:"userId"`
	Username   string               `json:"username"`
	IsTyping   bool                 `json:"isTyping"`
	TypingType string               `json:"typingType,omitempty"`
	AllTyping  []cache.TypingMember `json:"allTyping"`
}

type ActiveUser struct {
	ID       uint64    `json:"id"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"lastSeen"`
}

// ActiveUsersMessage 全局在线用户列表，连接/断开时向所有连接广播。
type ActiveUsersMessage struct {
	Type  string       `json:"type"` // 固定 "activeUsers"
	Users []ActiveUser `json:"users"`
}

// DocumentSummary 文档摘要，房间外的列表视图用。
type DocumentSummary struct {
	ID           uint64    `json:"id"`
	Title        string    `json:"title"`
	CreatedBy    uint64    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      uint64    `json:"version"`
	Participants int       `json:"participants"`
	MessageCount int64     `json:"messageCount"`
}

// DocumentSummaryMessage type 为 documentCreated 或 documentUpdated。
type DocumentSummaryMessage struct {
	Type     string          `json:"type"`
	Document DocumentSummary `json:"document"`
}

// DocumentSyncMessage 追平应答：权威快照 + 操作日志（旧的在前）+ 在场状态。
type DocumentSyncMessage struct {
	Type       string                     `json:"type"` // 固定 "documentSync"
	Document   *store.Document            `json:"document"`
	Operations []store.DocumentOperation  `json:"operations"`
	Presence   []cache.PresenceMember     `json:"presence"`
	Cursors    map[uint64]json.RawMessage `json:"cursors"`
}

// CursorEntry 光标在 redis 里的存储格式。
type CursorEntry struct {
	Username  string          `json:"username"`
	Cursor    json.RawMessage `json:"cursor"`
	UpdatedAt int64           `json:"updatedAt"` // unix 毫秒
}

func (m ServerMessage) MessageType() string          { return m.Type }
func (m DocumentJoinedMessage) MessageType() string  { return m.Type }
func (m ChatBroadcastMessage) MessageType() string   { return m.Type }
func (m TypingBroadcastMessage) MessageType() string { return m.Type }
func (m ActiveUsersMessage) MessageType() string     { return m.Type }
func (m DocumentSummaryMessage) MessageType() string { return m.Type }
func (m DocumentSyncMessage) MessageType() string    { return m.Type }
