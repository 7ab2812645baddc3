package store

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrDocumentNotFound = errors.New("document not found")
	ErrMessageNotFound  = errors.New("chat message not found")
)

// VersionConflictError 乐观版本校验失败。
// 携带两个版本号，调用方需要重新拉取文档再重试，服务端不做自动合并。
type VersionConflictError struct {
	CurrentVersion uint64
	ClientVersion  uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("VERSION_CONFLICT: current=%d client=%d", e.CurrentVersion, e.ClientVersion)
}
