package collab

import (
	"context"
	"log"
	"sync"
	"time"
)

// Operation 一条待落盘的编辑操作。
// FinalContent 是该操作应用后的文档全文，整批落盘时只取最后一条的全文。
type Operation struct {
	AuthorID     uint64
	Type         string // insert / delete / retain
	Position     int
	Content      string
	Length       int
	FinalContent string
}

// BatchStore 批量落盘接口：一个事务内按原序追加操作日志，
// 并把文档内容更新为 finalContent、version 精确 +1（不是 +len(ops)）。
type BatchStore interface {
	ApplyOperationBatch(ctx context.Context, docID uint64, ops []Operation, finalContent string) (uint64, error)
}

// CacheInvalidator 落盘成功后失效文档快照缓存。
type CacheInvalidator interface {
	InvalidateDocument(ctx context.Context, docID uint64) error
}

// EventSink 落盘成功后发布批次事件（Kafka 派发器实现）。
type EventSink interface {
	Enqueue(ctx context.Context, evt BatchEvent) error
}

type BatcherOptions struct {
	FlushDelay   time.Duration // 积累窗口，默认 1s
	FlushTimeout time.Duration // 单次落盘的存储超时，默认 5s
}

// Batcher 写回协调器。每个文档一个待写队列，状态机 idle → accumulating → flushing → idle。
// 同一文档同一时刻只有一个 flush 在跑，这是系统里唯一强制互斥的地方。
type Batcher struct {
	store BatchStore
	cache CacheInvalidator
	sink  EventSink // 可为 nil

	flushDelay   time.Duration
	flushTimeout time.Duration

	mu   sync.Mutex
	docs map[uint64]*docQueue
	wg   sync.WaitGroup

	closed bool
}

type docQueue struct {
	pending    []Operation
	timerArmed bool
	flushing   bool
}

func NewBatcher(store BatchStore, cache CacheInvalidator, sink EventSink, opt BatcherOptions) *Batcher {
	if opt.FlushDelay <= 0 {
		opt.FlushDelay = time.Second
	}
	if opt.FlushTimeout <= 0 {
		opt.FlushTimeout = 5 * time.Second
	}
	return &Batcher{
		store:        store,
		cache:        cache,
		sink:         sink,
		flushDelay:   opt.FlushDelay,
		flushTimeout: opt.FlushTimeout,
		docs:         make(map[uint64]*docQueue),
	}
}

// Submit 把操作放进该文档的待写队列。
// 空闲时进入 accumulating 并启动定时器；正在 flush 时只追加，
// flush 结束后发现还有残留会重新armed定时器，不会丢。
func (b *Batcher) Submit(docID uint64, op Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	q := b.docs[docID]
	if q == nil {
		q = &docQueue{}
		b.docs[docID] = q
	}
	q.pending = append(q.pending, op)
	if !q.timerArmed && !q.flushing {
		q.timerArmed = true
		time.AfterFunc(b.flushDelay, func() { b.flush(docID) })
	}
}

// flush 定时器到期：原子取走整个队列并落盘。
func (b *Batcher) flush(docID uint64) {
	b.mu.Lock()
	q := b.docs[docID]
	if q == nil {
		b.mu.Unlock()
		return
	}
	q.timerArmed = false
	if q.flushing || len(q.pending) == 0 {
		b.mu.Unlock()
		return
	}
	q.flushing = true
	b.wg.Add(1)

	for len(q.pending) > 0 {
		ops := q.pending
		q.pending = nil
		b.mu.Unlock()

		b.flushBatch(docID, ops)

		b.mu.Lock()
		// flush 期间又进来的操作：正常情况重新armed一个窗口；
		// 已经进入关闭流程时直接在本轮循环里刷掉，不能丢。
		if len(q.pending) > 0 && !b.closed {
			q.timerArmed = true
			time.AfterFunc(b.flushDelay, func() { b.flush(docID) })
			break
		}
	}
	q.flushing = false
	if len(q.pending) == 0 && !q.timerArmed {
		delete(b.docs, docID)
	}
	b.wg.Done()
	b.mu.Unlock()
}

// flushBatch 落盘一批操作。失败只记日志并整批丢弃（有界积压策略）：
// 文档内容会滞后到下一次成功的编辑触发新 flush 为止。
func (b *Batcher) flushBatch(docID uint64, ops []Operation) {
	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	defer cancel()

	finalContent := ops[len(ops)-1].FinalContent
	rev, err := b.store.ApplyOperationBatch(ctx, docID, ops, finalContent)
	if err != nil {
		log.Printf("batch flush failed, drop batch doc=%d ops=%d err=%v", docID, len(ops), err)
		return
	}
	if b.cache != nil {
		if err := b.cache.InvalidateDocument(ctx, docID); err != nil {
			log.Printf("invalidate document cache failed doc=%d err=%v", docID, err)
		}
	}
	if b.sink != nil {
		evt := BatchEvent{
			EventType:      "BATCH_FLUSHED",
			DocID:          docID,
			Revision:       rev,
			OperationCount: len(ops),
			FlushedAt:      time.Now(),
		}
		if err := b.sink.Enqueue(ctx, evt); err != nil {
			log.Printf("enqueue batch event failed doc=%d err=%v", docID, err)
		}
	}
}

// Shutdown 优雅退出：同步刷掉所有非空队列，并等待在途 flush 结束。
// 之后的 Submit 一律丢弃。
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	type batch struct {
		docID uint64
		ops   []Operation
	}
	var batches []batch
	for docID, q := range b.docs {
		if len(q.pending) > 0 && !q.flushing {
			batches = append(batches, batch{docID: docID, ops: q.pending})
			q.pending = nil
		}
	}
	b.mu.Unlock()

	for _, bt := range batches {
		b.flushBatch(bt.docID, bt.ops)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCount 仅供测试与监控。
func (b *Batcher) PendingCount(docID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.docs[docID]; q != nil {
		return len(q.pending)
	}
	return 0
}
