package aggregator

import (
	"sort"
	"sync"

	"github.com/dipdup-io/evm-indexer/internal/storage"
)

type keyLock struct {
	mx   sync.Mutex
	refs int
}

// locker - mutex per stats key. Entries are dropped when nobody holds or waits for them.
type locker struct {
	mx    sync.Mutex
	locks map[storage.StatsKey]*keyLock
}

func newLocker() *locker {
	return &locker{
		locks: make(map[storage.StatsKey]*keyLock),
	}
}

// lock - acquires keys in sorted order and returns the release function
func (l *locker) lock(keys ...storage.StatsKey) func() {
	keys = uniqueSorted(keys)

	acquired := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		l.mx.Lock()
		kl, ok := l.locks[key]
		if !ok {
			kl = new(keyLock)
			l.locks[key] = kl
		}
		kl.refs++
		l.mx.Unlock()

		kl.mx.Lock()
		acquired = append(acquired, kl)
	}

	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			acquired[i].mx.Unlock()

			l.mx.Lock()
			acquired[i].refs--
			if acquired[i].refs == 0 {
				delete(l.locks, keys[i])
			}
			l.mx.Unlock()
		}
	}
}

func (l *locker) size() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.locks)
}

func uniqueSorted(keys []storage.StatsKey) []storage.StatsKey {
	result := make([]storage.StatsKey, 0, len(keys))
	seen := make(map[storage.StatsKey]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AddressID == result[j].AddressID {
			return result[i].TokenID < result[j].TokenID
		}
		return result[i].AddressID < result[j].AddressID
	})
	return result
}
