package conversation

import (
	"hash/fnv"
	"sync"
)

// stripedLock gives every conversation id its own effective write lock
// without allocating one mutex per conversation forever — a fixed pool
// of mutexes is chosen by hashing the key, the same tradeoff
// genesis/pkg/llm/session_manager.go makes with its keyed map, widened
// here so unrelated conversations contend only when their ids hash to the
// same stripe. All
// three caches plus ConversationInfo mutation for one conversation id are
// taken under the same stripe (spec §4.4: "the ConversationManager
// exclusively mutates all four caches under a single write lock per
// conversation id").
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n <= 0 {
		n = 1
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

func (s *stripedLock) stripeFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

// Lock acquires the stripe for key and returns the unlock func.
func (s *stripedLock) Lock(key string) func() {
	m := s.stripeFor(key)
	m.Lock()
	return m.Unlock
}
