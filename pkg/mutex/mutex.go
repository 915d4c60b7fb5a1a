package mutex

import "sync"

// KeyedMutex hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*entry)
	}
	en, ok := km.locks[key]
	if !ok {
		en = &entry{}
		km.locks[key] = en
	}
	en.refs++
	km.mu.Unlock()

	en.mu.Lock()
}

func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	en, ok := km.locks[key]
	if !ok {
		return
	}

	en.refs--
	if en.refs == 0 {
		delete(km.locks, key)
	}
	en.mu.Unlock()
}
