package funnel

import "sync"

type dialogKey struct {
	userID int64
	chatID int64
}

// keyedMutex serializes work per dialog so concurrent signals and ticks for
// the same (user, chat) pair never interleave, while distinct dialogs proceed
// in parallel. Entries are reference counted and removed once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[dialogKey]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[dialogKey]*lockEntry)}
}

// lock acquires the mutex for the key and returns its release function.
func (k *keyedMutex) lock(key dialogKey) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
