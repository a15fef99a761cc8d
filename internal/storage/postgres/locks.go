package postgres

import "sync"

// KeyedLocker hands out one mutex per key and forgets keys nobody holds.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocker returns an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is held and returns its release function.
//
// Postcondition: the returned func must be called exactly once.
func (k *KeyedLocker) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockPair holds both keys, always acquiring them in lexicographic order so
// two callers locking the same pair in opposite directions cannot deadlock.
// Equal keys are locked once.
//
// Postcondition: the returned func releases both keys.
func (k *KeyedLocker) LockPair(a, b string) func() {
	first, second := OrderedKeys(a, b)
	unlockFirst := k.Lock(first)
	if first == second {
		return unlockFirst
	}
	unlockSecond := k.Lock(second)
	return func() {
		unlockSecond()
		unlockFirst()
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedLocker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// OrderedKeys returns a and b in lexicographic order.
func OrderedKeys(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
