package scanner

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Memo caches scan results across builds. Entries are found first by
// path, size and modification time, then by content hash and language when
// the stat fingerprint changed but the bytes did not.
type Memo interface {
	Get(path string, size, mtime int64) (*Result, bool)
	GetByHash(hash string, lang Language) (*Result, bool)
	Put(path string, size, mtime int64, res *Result)
}

type statKey struct {
	path  string
	size  int64
	mtime int64
}

type hashKey struct {
	hash string
	lang Language
}

// MemoryMemo is an in-process Memo bounded by LRU eviction.
type MemoryMemo struct {
	byStat *lru.Cache[statKey, *Result]
	byHash *lru.Cache[hashKey, *Result]
}

// NewMemoryMemo creates a memo holding up to size results.
func NewMemoryMemo(size int) *MemoryMemo {
	if size <= 0 {
		size = 8192
	}
	byStat, _ := lru.New[statKey, *Result](size)
	byHash, _ := lru.New[hashKey, *Result](size)
	return &MemoryMemo{byStat: byStat, byHash: byHash}
}

func (m *MemoryMemo) Get(path string, size, mtime int64) (*Result, bool) {
	return m.byStat.Get(statKey{path: path, size: size, mtime: mtime})
}

func (m *MemoryMemo) GetByHash(hash string, lang Language) (*Result, bool) {
	if hash == "" {
		return nil, false
	}
	return m.byHash.Get(hashKey{hash: hash, lang: lang})
}

func (m *MemoryMemo) Put(path string, size, mtime int64, res *Result) {
	m.byStat.Add(statKey{path: path, size: size, mtime: mtime}, res)
	if res.Hash != "" {
		m.byHash.Add(hashKey{hash: res.Hash, lang: res.Language}, res)
	}
}

// Len returns the number of stat-keyed entries.
func (m *MemoryMemo) Len() int {
	return m.byStat.Len()
}
