package store

import (
	"context"
	"errors"
	"os"
	"testing"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(127.0.0.1:3306)/collab_test?parseTime=true&charset=utf8mb4&loc=Local"
	}
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{})
	// 若 MySQL 未启动则跳过
	if err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Skipf("skip: mysql not usable: %v", err)
	}
	return db
}

func TestUpdateContentVersionMatch(t *testing.T) {
	db := newTestDB(t)
	s := NewDocumentStore(db, nil)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, 1, "draft")
	if err != nil {
		t.Fatalf("CreateDocument error: %v", err)
	}
	t.Cleanup(func() { db.Delete(&Document{}, doc.ID) })

	// 版本匹配：成功且精确 +1
	v := doc.Version
	newVersion, err := s.UpdateContent(ctx, doc.ID, "hello", &v)
	if err != nil {
		t.Fatalf("UpdateContent error: %v", err)
	}
	if newVersion != doc.Version+1 {
		t.Fatalf("newVersion = %d, want %d", newVersion, doc.Version+1)
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument error: %v", err)
	}
	if got.Content != "hello" || got.Version != newVersion {
		t.Fatalf("stored content=%q version=%d, want hello/%d", got.Content, got.Version, newVersion)
	}
}

func TestUpdateContentVersionMismatch(t *testing.T) {
	db := newTestDB(t)
	s := NewDocumentStore(db, nil)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, 1, "draft")
	if err != nil {
		t.Fatalf("CreateDocument error: %v", err)
	}
	t.Cleanup(func() { db.Delete(&Document{}, doc.ID) })

	v := doc.Version
	current, err := s.UpdateContent(ctx, doc.ID, "hello", &v)
	if err != nil {
		t.Fatalf("UpdateContent error: %v", err)
	}

	// 过期版本号：返回冲突并携带两个版本号
	stale := v // 已经落后一个版本
	_, err = s.UpdateContent(ctx, doc.ID, "clobber", &stale)
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want VersionConflictError, got %v", err)
	}
	if conflict.CurrentVersion != current || conflict.ClientVersion != stale {
		t.Fatalf("conflict = %+v, want current=%d client=%d", conflict, current, stale)
	}

	// 冲突写入不能留下任何痕迹
	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument error: %v", err)
	}
	if got.Content != "hello" || got.Version != current {
		t.Fatalf("content=%q version=%d changed by a conflicting write", got.Content, got.Version)
	}
}

func TestUpdateContentWithoutClientVersion(t *testing.T) {
	db := newTestDB(t)
	s := NewDocumentStore(db, nil)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, 1, "draft")
	if err != nil {
		t.Fatalf("CreateDocument error: %v", err)
	}
	t.Cleanup(func() { db.Delete(&Document{}, doc.ID) })

	// 不带版本号：last-write-wins，仍然只 +1
	newVersion, err := s.UpdateContent(ctx, doc.ID, "forced", nil)
	if err != nil {
		t.Fatalf("UpdateContent error: %v", err)
	}
	if newVersion != doc.Version+1 {
		t.Fatalf("newVersion = %d, want %d", newVersion, doc.Version+1)
	}
}

func TestUpdateContentUnknownDocument(t *testing.T) {
	db := newTestDB(t)
	s := NewDocumentStore(db, nil)

	_, err := s.UpdateContent(context.Background(), 0xFFFFFFFF, "x", nil)
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}
