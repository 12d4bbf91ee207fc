package cache

import (
	"strconv"
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// DefaultMemoSize is the entry cap of a per-run function memo.
const DefaultMemoSize = 1000

// Memo caches host function results within one evaluation run, keyed by
// function name and argument values. When an insert would exceed the cap the
// whole memo is cleared rather than evicting piecewise.
type Memo struct {
	limit   int
	entries map[string]types.Value
	hits    int
	misses  int
}

// NewMemo creates a memo holding at most limit entries.
func NewMemo(limit int) *Memo {
	if limit <= 0 {
		limit = DefaultMemoSize
	}
	return &Memo{limit: limit, entries: make(map[string]types.Value)}
}

// Get returns a cached result.
func (m *Memo) Get(name string, args []types.Value) (types.Value, bool) {
	v, ok := m.entries[memoKey(name, args)]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return v, ok
}

// Put stores a result.
func (m *Memo) Put(name string, args []types.Value, v types.Value) {
	key := memoKey(name, args)
	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.limit {
		m.entries = make(map[string]types.Value)
	}
	m.entries[key] = v
}

// Len returns the number of cached results.
func (m *Memo) Len() int { return len(m.entries) }

// Stats returns hit and miss counts since the last Reset.
func (m *Memo) Stats() (hits, misses int) { return m.hits, m.misses }

// Reset empties the memo and its statistics.
func (m *Memo) Reset() {
	m.entries = make(map[string]types.Value)
	m.hits, m.misses = 0, 0
}

// memoKey serializes a call so that values of different types never collide:
// 1, 1.0 and "1" produce distinct keys.
func memoKey(name string, args []types.Value) string {
	var sb strings.Builder
	sb.WriteString(name)
	for _, a := range args {
		sb.WriteByte(0)
		writeValueKey(&sb, a)
	}
	return sb.String()
}

func writeValueKey(sb *strings.Builder, v types.Value) {
	sb.WriteString(strconv.Itoa(int(v.Type())))
	sb.WriteByte(':')
	if v.Type() == types.TypeArray {
		sb.WriteString(strconv.Itoa(v.Len()))
		sb.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			writeValueKey(sb, v.Index(i))
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
		return
	}
	s := types.ToString(v)
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}
