package collab

import "time"

// BatchEvent 一次成功落盘对应一条事件，供下游（审计、搜索索引等）消费。
type BatchEvent struct {
	EventType      string    `json:"eventType"` // 固定 "BATCH_FLUSHED"
	DocID          uint64    `json:"docId"`
	Revision       uint64    `json:"revision"`
	OperationCount int       `json:"operationCount"`
	FlushedAt      time.Time `json:"flushedAt"`
}
