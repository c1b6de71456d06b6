package cachestore

import (
	"container/list"
	"strings"
	"sync"
)

// frontCache is a bounded LRU sitting in front of bbolt. Keys combine the
// version and identity so stale versions can be invalidated wholesale.
type frontCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

type frontItem struct {
	key   string
	entry *Entry
}

func newFrontCache(capacity int) *frontCache {
	return &frontCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func frontKey(version, identity string) string {
	return version + "\x00" + identity
}

func (fc *frontCache) get(version, identity string) (*Entry, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	elem, ok := fc.items[frontKey(version, identity)]
	if !ok {
		return nil, false
	}
	fc.order.MoveToFront(elem)
	return elem.Value.(*frontItem).entry, true
}

func (fc *frontCache) set(version, identity string, entry *Entry) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	key := frontKey(version, identity)
	if elem, ok := fc.items[key]; ok {
		elem.Value.(*frontItem).entry = entry
		fc.order.MoveToFront(elem)
		return
	}

	fc.items[key] = fc.order.PushFront(&frontItem{key: key, entry: entry})

	for fc.order.Len() > fc.capacity {
		oldest := fc.order.Back()
		if oldest == nil {
			break
		}
		fc.order.Remove(oldest)
		delete(fc.items, oldest.Value.(*frontItem).key)
	}
}

// invalidateVersion drops every cached entry belonging to a version.
func (fc *frontCache) invalidateVersion(version string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	prefix := version + "\x00"
	for key, elem := range fc.items {
		if strings.HasPrefix(key, prefix) {
			fc.order.Remove(elem)
			delete(fc.items, key)
		}
	}
}

func (fc *frontCache) len() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.order.Len()
}
