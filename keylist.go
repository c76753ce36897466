package reldb

import (
	"bytes"
	"iter"
	"slices"
	"sort"
)

// keyList is the sorted key sequence of an ordered index.
type keyList struct {
	items [][]byte
}

func (kl *keyList) Len() int {
	return len(kl.items)
}

func (kl *keyList) insert(key []byte) bool {
	i, ok := kl.find(key)
	if ok {
		return false
	}
	kl.items = slices.Insert(kl.items, i, key)
	return true
}

func (kl *keyList) delete(key []byte) bool {
	i, ok := kl.find(key)
	if !ok {
		return false
	}
	kl.items = slices.Delete(kl.items, i, i+1)
	return true
}

func (kl *keyList) find(key []byte) (idx int, ok bool) {
	items := kl.items
	i := kl.seek(key)
	if i < len(items) && bytes.Equal(items[i], key) {
		return i, true
	}
	return i, false
}

// seek returns the position of the first key >= seek.
func (kl *keyList) seek(seek []byte) int {
	items := kl.items
	return sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i], seek) >= 0
	})
}

// seekAfter returns the position of the first key > seek.
func (kl *keyList) seekAfter(seek []byte) int {
	items := kl.items
	return sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i], seek) > 0
	})
}

func (kl *keyList) scan(rang keyRange) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		start, end := rang.bounds(kl)
		for i := start; i < end; i++ {
			if i >= len(kl.items) {
				return
			}
			if !yield(kl.items[i]) {
				return
			}
		}
	}
}

func (kl *keyList) equal(other *keyList) bool {
	return slices.EqualFunc(kl.items, other.items, bytes.Equal)
}

func (kl *keyList) size() int {
	var n int
	for _, k := range kl.items {
		n += len(k)
	}
	return n
}
