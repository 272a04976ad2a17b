package lexical_test

import "github.com/amanindex/coreengine/internal/lock"

func newMemLocker() *lock.MemoryLocker {
	return lock.NewMemoryLocker()
}
