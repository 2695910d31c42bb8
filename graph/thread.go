package graph

import (
	"sort"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/dag"
)

// Thread is a lazy, restartable iterator over one scope's DAG in
// deterministic topological order: parents before children, ties broken by
// (timestamp, author, sequence) ascending, then CID as the final total-
// order key. The order is fixed when the Thread is created; nodes appended
// afterwards are not included (use a Cursor to follow the live log).
//
// Usage follows the sql.Rows shape:
//
//	th, _ := store.Thread("coop:solar")
//	for th.Next() {
//	    n := th.Node()
//	    ...
//	}
//	if err := th.Err(); err != nil { ... }
type Thread struct {
	store *Store
	order []string
	pos   int
	cur   *dag.Node
	err   error
}

type threadEntry struct {
	key       string
	timestamp int64
	author    string
	sequence  uint64
}

func threadLess(a, b threadEntry) bool {
	if a.timestamp != b.timestamp {
		return a.timestamp < b.timestamp
	}
	if a.author != b.author {
		return a.author < b.author
	}
	if a.sequence != b.sequence {
		return a.sequence < b.sequence
	}
	return a.key < b.key
}

// Thread returns a deterministic topological walk of scopeID.
func (s *Store) Thread(scopeID string) (*Thread, error) {
	if !s.scopes.Has(scopeID) {
		return nil, newError(ClassNotFound, CodeScopeNotFound, "MESH-GRAPH-181", "scope not registered: "+scopeID)
	}

	// Snapshot the scope's membership and edges under the lock, then order
	// outside it: ordering is pure computation over immutable metadata.
	s.mu.Lock()
	keys := append([]string(nil), s.byScope[scopeID]...)
	entries := make(map[string]threadEntry, len(keys))
	children := make(map[string][]string, len(keys))
	indegree := make(map[string]int, len(keys))
	for _, k := range keys {
		m := s.index[k]
		entries[k] = threadEntry{key: k, timestamp: m.timestamp, author: m.author, sequence: m.sequence}
		indegree[k] = len(m.parents)
		for _, p := range m.parents {
			children[p] = append(children[p], k)
		}
	}
	s.mu.Unlock()

	// Kahn's algorithm with a sorted ready set. A worklist with explicit
	// ordering, not recursion: the DAG can be deep.
	var ready []threadEntry
	for _, k := range keys {
		if indegree[k] == 0 {
			ready = append(ready, entries[k])
		}
	}
	sort.Slice(ready, func(i, j int) bool { return threadLess(ready[i], ready[j]) })

	order := make([]string, 0, len(keys))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next.key)
		for _, c := range children[next.key] {
			indegree[c]--
			if indegree[c] == 0 {
				e := entries[c]
				i := sort.Search(len(ready), func(i int) bool { return threadLess(e, ready[i]) })
				ready = append(ready, threadEntry{})
				copy(ready[i+1:], ready[i:])
				ready[i] = e
			}
		}
	}

	return &Thread{store: s, order: order}, nil
}

// Next advances to the next node, returning false at the end of the thread
// or on error.
func (t *Thread) Next() bool {
	if t.err != nil || t.pos >= len(t.order) {
		return false
	}
	id, err := cid.Decode(t.order[t.pos])
	if err != nil {
		t.err = wrapErr(ClassInternal, CodeNotFound, "MESH-GRAPH-182", "corrupt thread order", err)
		return false
	}
	n, err := t.store.GetNode(id)
	if err != nil {
		t.err = err
		return false
	}
	t.cur = n
	t.pos++
	return true
}

// Node returns the current node.
func (t *Thread) Node() *dag.Node { return t.cur }

// CID returns the current node's CID string.
func (t *Thread) CID() string {
	if t.pos == 0 {
		return ""
	}
	return t.order[t.pos-1]
}

// Err returns the first error encountered while iterating.
func (t *Thread) Err() error { return t.err }

// Len returns the number of nodes in the thread.
func (t *Thread) Len() int { return len(t.order) }

// Reset rewinds the thread to its beginning. The captured order is reused,
// so a Reset walk yields exactly the same sequence.
func (t *Thread) Reset() {
	t.pos = 0
	t.cur = nil
	t.err = nil
}

// Cursor follows a scope's append log in first-seen order. It is the
// polling-subscription primitive observers (capability index, governance
// watchers) use instead of an event bus: call Next until it reports no
// more nodes, then poll again later.
type Cursor struct {
	store   *Store
	scopeID string
	pos     int
}

// Cursor opens a cursor at the start of scopeID's append log.
func (s *Store) Cursor(scopeID string) (*Cursor, error) {
	if !s.scopes.Has(scopeID) {
		return nil, newError(ClassNotFound, CodeScopeNotFound, "MESH-GRAPH-183", "scope not registered: "+scopeID)
	}
	return &Cursor{store: s, scopeID: scopeID}, nil
}

// Next returns the next appended node, or ok=false when the cursor has
// caught up with the log.
func (c *Cursor) Next() (n *dag.Node, ok bool, err error) {
	c.store.mu.Lock()
	log := c.store.byScope[c.scopeID]
	if c.pos >= len(log) {
		c.store.mu.Unlock()
		return nil, false, nil
	}
	key := log[c.pos]
	c.store.mu.Unlock()

	id, derr := cid.Decode(key)
	if derr != nil {
		return nil, false, wrapErr(ClassInternal, CodeNotFound, "MESH-GRAPH-184", "corrupt append log", derr)
	}
	node, gerr := c.store.GetNode(id)
	if gerr != nil {
		return nil, false, gerr
	}
	c.pos++
	return node, true, nil
}

// Position returns the cursor's offset into the append log.
func (c *Cursor) Position() int { return c.pos }
