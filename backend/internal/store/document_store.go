package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/collab"
)

// SnapshotCache 文档快照缓存（redis 实现见 internal/cache）。
// payload 是文档记录的 JSON；Get 未命中返回 found=false。
type SnapshotCache interface {
	GetDocument(ctx context.Context, docID uint64) (payload []byte, found bool, err error)
	SetDocument(ctx context.Context, docID uint64, payload []byte) error
	SetDocumentMissing(ctx context.Context, docID uint64) error
	InvalidateDocument(ctx context.Context, docID uint64) error
}

type DocumentStore struct {
	db    *gorm.DB
	cache SnapshotCache // 可为 nil，降级为直查 MySQL
	sf    singleflight.Group
}

func NewDocumentStore(db *gorm.DB, cache SnapshotCache) *DocumentStore {
	return &DocumentStore{db: db, cache: cache}
}

func (s *DocumentStore) CreateDocument(ctx context.Context, createdBy uint64, title string) (*Document, error) {
	doc := &Document{
		Title:     title,
		Content:   "",
		CreatedBy: createdBy,
		Version:   1,
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument 读取文档快照：singleflight 包住「查缓存 → 回源 MySQL → 回填」，
// 并发读同一文档只打一次库。缓存层出错只降级不失败。
func (s *DocumentStore) GetDocument(ctx context.Context, docID uint64) (*Document, error) {
	if s.cache == nil {
		return s.getDocumentDB(ctx, docID)
	}
	key := "document:" + strconv.FormatUint(docID, 10)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		payload, hit, err := s.cache.GetDocument(ctx, docID)
		if err != nil {
			log.Printf("document cache read failed doc=%d err=%v", docID, err)
		} else if hit {
			if payload == nil {
				// 空值标记：短期内确认不存在，防止缓存穿透
				return nil, ErrDocumentNotFound
			}
			var doc Document
			if err := json.Unmarshal(payload, &doc); err == nil {
				return &doc, nil
			}
		}

		doc, err := s.getDocumentDB(ctx, docID)
		if err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				if cerr := s.cache.SetDocumentMissing(ctx, docID); cerr != nil {
					log.Printf("document null-cache write failed doc=%d err=%v", docID, cerr)
				}
			}
			return nil, err
		}
		if payload, err := json.Marshal(doc); err == nil {
			if cerr := s.cache.SetDocument(ctx, docID, payload); cerr != nil {
				log.Printf("document cache write failed doc=%d err=%v", docID, cerr)
			}
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

func (s *DocumentStore) getDocumentDB(ctx context.Context, docID uint64) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).First(&doc, docID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// ListDocuments 文档摘要列表（不含正文），按最近更新排序。
func (s *DocumentStore) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := s.db.WithContext(ctx).
		Select("id", "title", "created_by", "created_at", "updated_at", "version").
		Order("updated_at DESC").
		Find(&docs).Error
	return docs, err
}

// UpdateContent 带乐观版本校验的内容更新（非实时路径）。
// clientVersion 为 nil 时跳过校验（last-write-wins）；
// 校验、写入、版本 +1 在一个行锁事务里完成。
func (s *DocumentStore) UpdateContent(ctx context.Context, docID uint64, content string, clientVersion *uint64) (uint64, error) {
	var newVersion uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, docID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}
		if clientVersion != nil && *clientVersion != doc.Version {
			return &VersionConflictError{CurrentVersion: doc.Version, ClientVersion: *clientVersion}
		}
		newVersion = doc.Version + 1
		return tx.Model(&Document{}).Where("id = ?", docID).Updates(map[string]interface{}{
			"content":    content,
			"version":    newVersion,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, docID)
	return newVersion, nil
}

// UpdateTitle 标题是无条件 last-write，不走版本校验。
func (s *DocumentStore) UpdateTitle(ctx context.Context, docID uint64, title string) error {
	res := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Updates(map[string]interface{}{
		"title":      title,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	s.invalidate(ctx, docID)
	return nil
}

// ApplyOperationBatch 批量写回（collab.BatchStore 实现）：
// 行锁事务内按原序追加操作日志，再把内容更新为整批最后一条的全文，
// 多条编辑合并成一次 version +1。
func (s *DocumentStore) ApplyOperationBatch(ctx context.Context, docID uint64, ops []collab.Operation, finalContent string) (uint64, error) {
	var newVersion uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, docID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}
		rows := make([]DocumentOperation, 0, len(ops))
		for _, op := range ops {
			rows = append(rows, DocumentOperation{
				DocumentID:    docID,
				UserID:        op.AuthorID,
				OperationType: op.Type,
				Position:      op.Position,
				Content:       op.Content,
				Length:        op.Length,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		newVersion = doc.Version + 1
		return tx.Model(&Document{}).Where("id = ?", docID).Updates(map[string]interface{}{
			"content":    finalContent,
			"version":    newVersion,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return 0, err
	}
	// 缓存失效由批处理器在落盘成功后统一做（InvalidateDocument）
	return newVersion, nil
}

// InvalidateDocument collab.CacheInvalidator 实现。
func (s *DocumentStore) InvalidateDocument(ctx context.Context, docID uint64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateDocument(ctx, docID)
}

func (s *DocumentStore) invalidate(ctx context.Context, docID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDocument(ctx, docID); err != nil {
		log.Printf("invalidate document cache failed doc=%d err=%v", docID, err)
	}
}

// ListOperations 返回操作日志，旧的在前，limit <= 0 表示不限。
func (s *DocumentStore) ListOperations(ctx context.Context, docID uint64, limit int) ([]DocumentOperation, error) {
	q := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ops []DocumentOperation
	err := q.Find(&ops).Error
	return ops, err
}
