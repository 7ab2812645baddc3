package store

import (
	"context"

	"gorm.io/gorm"
)

type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// InsertMessage 写入聊天消息，返回带库分配 id 和时间戳的完整记录。
// 发送方要等这条记录回来才能把本地乐观副本对齐。
func (s *ChatStore) InsertMessage(ctx context.Context, docID, userID uint64, username, message string) (*ChatMessage, error) {
	m := &ChatMessage{
		DocumentID: docID,
		UserID:     userID,
		Username:   username,
		Message:    message,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages 聊天历史，旧的在前，limit <= 0 表示不限。
func (s *ChatStore) ListMessages(ctx context.Context, docID uint64, limit int) ([]ChatMessage, error) {
	q := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []ChatMessage
	err := q.Find(&msgs).Error
	return msgs, err
}

// DeleteMessage 只允许作者删除自己的消息；删不到行按不存在处理。
func (s *ChatStore) DeleteMessage(ctx context.Context, docID, messageID, userID uint64) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND document_id = ? AND user_id = ?", messageID, docID, userID).
		Delete(&ChatMessage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *ChatStore) CountMessages(ctx context.Context, docID uint64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("document_id = ?", docID).Count(&n).Error
	return n, err
}
