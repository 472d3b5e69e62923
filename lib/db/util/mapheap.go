// Package util
//
// This file provides a priority queue for garbage collection purposes.
//
// The implementation combines a binary heap with a hash map to provide both
// priority-based operations and key-based access:
//   - O(log n) for priority operations (AddItem, Pop, update)
//   - O(1) for key-based lookups and existence checks
//   - O(log n) for key-based removal
//
// The heap is not thread-safe, each garbage collector owns its own heap.
package util

import (
	"container/heap"
	"fmt"
)

// Item is an entry of the heap
type Item[K comparable] struct {
	Key      K
	Priority int64
	index    int
}

func (i *Item[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min heap ordered by priority with key based access
type MapHeap[K comparable] struct {
	items    []*Item[K]
	itemsMap map[K]*Item[K]
}

// NewMapHeap creates a new empty heap
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*Item[K], 0),
		itemsMap: make(map[K]*Item[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (h *MapHeap[K]) Len() int { return len(h.items) }

// Less compares items by priority (part of heap.Interface)
func (h *MapHeap[K]) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *MapHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem)
func (h *MapHeap[K]) Push(x interface{}) {
	it := x.(*Item[K])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop removes and returns the last item (part of heap.Interface, use PopMin)
func (h *MapHeap[K]) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// AddItem adds a new item or updates the priority of an existing one
func (h *MapHeap[K]) AddItem(key K, priority int64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &Item[K]{Key: key, Priority: priority})
}

// RemoveByKey removes an item by its key and returns its priority
func (h *MapHeap[K]) RemoveByKey(key K) (int64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the item with the lowest priority without removing it
func (h *MapHeap[K]) Peek() (*Item[K], bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// PopMin removes and returns the item with the lowest priority
func (h *MapHeap[K]) PopMin() (*Item[K], bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return heap.Pop(h).(*Item[K]), true
}

// Contains checks if a key exists in the queue
func (h *MapHeap[K]) Contains(key K) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// Clear removes all items
func (h *MapHeap[K]) Clear() {
	h.items = h.items[:0]
	clear(h.itemsMap)
}
