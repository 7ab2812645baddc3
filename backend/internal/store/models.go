package store

import "time"

// User 账户记录。首次登录（注册）时创建，last_seen 在每次登录时刷新。
type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash []byte    `gorm:"column:password_hash;not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Document 文档主记录。version 是唯一的冲突检测信号：
// 每次持久化内容变更 +1（批量落盘时整批只 +1）。
type Document struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Content   string    `gorm:"type:longtext" json:"content"`
	CreatedBy uint64    `gorm:"index;not null" json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   uint64    `gorm:"not null;default:1" json:"version"`
}

// ChatMessage 文档内聊天消息。username 写入时冗余一份，读历史不用再 join users。
type ChatMessage struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID uint64    `gorm:"index;not null" json:"documentId"`
	UserID     uint64    `gorm:"not null" json:"userId"`
	Username   string    `gorm:"size:64;not null" json:"username"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DocumentOperation 追加式操作日志，写入后不再修改。
type DocumentOperation struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID    uint64    `gorm:"index;not null" json:"documentId"`
	UserID        uint64    `gorm:"not null" json:"userId"`
	OperationType string    `gorm:"size:16;not null" json:"operationType"`
	Position      int       `gorm:"not null" json:"position"`
	Content       string    `gorm:"type:text" json:"content"`
	Length        int       `gorm:"not null" json:"length"`
	CreatedAt     time.Time `json:"createdAt"`
}
