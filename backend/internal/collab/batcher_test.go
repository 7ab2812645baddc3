package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeBatchStore struct {
	mu       sync.Mutex
	batches  [][]Operation
	finals   []string
	rev      uint64
	failNext bool
	// 测试注入：不为 nil 时，ApplyOperationBatch 进入后先通知再等放行
	entered chan struct{}
	release chan struct{}
}

func (f *fakeBatchStore) ApplyOperationBatch(ctx context.Context, docID uint64, ops []Operation, finalContent string) (uint64, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return 0, errors.New("store unavailable")
	}
	cp := make([]Operation, len(ops))
	copy(cp, ops)
	f.batches = append(f.batches, cp)
	f.finals = append(f.finals, finalContent)
	f.rev++
	return f.rev, nil
}

func (f *fakeBatchStore) snapshot() ([][]Operation, []string, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches, f.finals, f.rev
}

type fakeInvalidator struct {
	mu    sync.Mutex
	count int
}

func (f *fakeInvalidator) InvalidateDocument(ctx context.Context, docID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func (f *fakeInvalidator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeSink struct {
	mu     sync.Mutex
	events []BatchEvent
}

func (f *fakeSink) Enqueue(ctx context.Context, evt BatchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeSink) all() []BatchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func op(author uint64, content, final string) Operation {
	return Operation{
		AuthorID:     author,
		Type:         "insert",
		Position:     0,
		Content:      content,
		Length:       len(content),
		FinalContent: final,
	}
}

func TestBatcher_CollapsesWindowIntoSingleFlush(t *testing.T) {
	fs := &fakeBatchStore{}
	inv := &fakeInvalidator{}
	sink := &fakeSink{}
	b := NewBatcher(fs, inv, sink, BatcherOptions{FlushDelay: 30 * time.Millisecond})

	b.Submit(1, op(10, "a", "a"))
	b.Submit(1, op(10, "b", "ab"))
	b.Submit(1, op(10, "c", "abc"))

	time.Sleep(200 * time.Millisecond)

	batches, finals, rev := fs.snapshot()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Fatalf("ops in batch = %d, want 3", len(batches[0]))
	}
	// 落库顺序必须是提交顺序
	for i, want := range []string{"a", "b", "c"} {
		if batches[0][i].Content != want {
			t.Fatalf("op[%d].Content = %q, want %q", i, batches[0][i].Content, want)
		}
	}
	// 整批只有一次版本推进，内容取最后一条的全文
	if rev != 1 {
		t.Fatalf("revision = %d, want 1", rev)
	}
	if finals[0] != "abc" {
		t.Fatalf("final content = %q, want %q", finals[0], "abc")
	}
	if inv.calls() != 1 {
		t.Fatalf("cache invalidations = %d, want 1", inv.calls())
	}
	events := sink.all()
	if len(events) != 1 || events[0].OperationCount != 3 || events[0].Revision != 1 {
		t.Fatalf("events = %+v, want one BATCH_FLUSHED with count=3 rev=1", events)
	}
}

func TestBatcher_SeparateDocumentsFlushIndependently(t *testing.T) {
	fs := &fakeBatchStore{}
	b := NewBatcher(fs, &fakeInvalidator{}, nil, BatcherOptions{FlushDelay: 30 * time.Millisecond})

	b.Submit(1, op(10, "x", "x"))
	b.Submit(2, op(11, "y", "y"))

	time.Sleep(200 * time.Millisecond)

	batches, _, _ := fs.snapshot()
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
}

func TestBatcher_DropBatchOnStoreFailure(t *testing.T) {
	fs := &fakeBatchStore{failNext: true}
	sink := &fakeSink{}
	b := NewBatcher(fs, &fakeInvalidator{}, sink, BatcherOptions{FlushDelay: 30 * time.Millisecond})

	b.Submit(1, op(10, "lost", "lost"))
	time.Sleep(200 * time.Millisecond)

	batches, _, _ := fs.snapshot()
	if len(batches) != 0 {
		t.Fatalf("batches = %d, want 0 (failed batch must be dropped)", len(batches))
	}
	if b.PendingCount(1) != 0 {
		t.Fatalf("pending = %d, want 0 (no retry backlog)", b.PendingCount(1))
	}
	if len(sink.all()) != 0 {
		t.Fatalf("no event expected for a failed flush")
	}

	// 失败不污染后续：下一次编辑触发全新的 flush
	b.Submit(1, op(10, "next", "next"))
	time.Sleep(200 * time.Millisecond)
	batches, finals, _ := fs.snapshot()
	if len(batches) != 1 || len(batches[0]) != 1 || finals[0] != "next" {
		t.Fatalf("recovery flush wrong: batches=%+v finals=%+v", batches, finals)
	}
}

func TestBatcher_OpsArrivingMidFlushAreNotLost(t *testing.T) {
	fs := &fakeBatchStore{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	b := NewBatcher(fs, &fakeInvalidator{}, nil, BatcherOptions{FlushDelay: 20 * time.Millisecond})

	b.Submit(1, op(10, "first", "first"))

	// 等第一次 flush 进入存储调用，此刻再提交一条
	<-fs.entered
	b.Submit(1, op(10, "second", "first second"))
	fs.release <- struct{}{}

	// 第二条靠重新armed的窗口落盘，同样要过闸门
	<-fs.entered
	fs.release <- struct{}{}
	time.Sleep(100 * time.Millisecond)

	batches, finals, _ := fs.snapshot()
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if len(batches[1]) != 1 || batches[1][0].Content != "second" {
		t.Fatalf("second batch = %+v, want the mid-flush op", batches[1])
	}
	if finals[1] != "first second" {
		t.Fatalf("second final = %q", finals[1])
	}
}

func TestBatcher_ShutdownFlushesPendingQueues(t *testing.T) {
	fs := &fakeBatchStore{}
	b := NewBatcher(fs, &fakeInvalidator{}, nil, BatcherOptions{FlushDelay: time.Hour})

	b.Submit(1, op(10, "a", "a"))
	b.Submit(2, op(11, "b", "b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	batches, _, _ := fs.snapshot()
	if len(batches) != 2 {
		t.Fatalf("batches after shutdown = %d, want 2", len(batches))
	}

	// 关闭后提交一律丢弃
	b.Submit(1, op(10, "late", "late"))
	if b.PendingCount(1) != 0 {
		t.Fatalf("submit after shutdown must be dropped")
	}
}
