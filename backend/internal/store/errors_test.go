package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestVersionConflictErrorUnwrapsThroughWrapping(t *testing.T) {
	var err error = &VersionConflictError{CurrentVersion: 5, ClientVersion: 3}
	err = fmt.Errorf("update content: %w", err)

	// HTTP 层靠 errors.As 把冲突转成 409，包装后必须还能取出版本号
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("errors.As failed on wrapped conflict")
	}
	if conflict.CurrentVersion != 5 || conflict.ClientVersion != 3 {
		t.Fatalf("conflict = %+v", conflict)
	}
	if got := conflict.Error(); got != "VERSION_CONFLICT: current=5 client=3" {
		t.Fatalf("Error() = %q", got)
	}
}
