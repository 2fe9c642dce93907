// Copyright 2025 Certnode Project
//
// Package dag implements the in-memory authoritative DAG of transaction
// nodes and confirms-edges. It is an arena-style map keyed by node id;
// nodes never hold a reference to another node, so the structure cannot
// develop reference cycles regardless of what edges are added.
package dag

import (
	"sort"
	"sync"

	"github.com/certnode/factledger/pkg/apperr"
)

// Node is an immutable transaction record. Once added, none of its fields
// change.
type Node struct {
	ID        string
	Subject   string
	Predicate string
	Object    string
	Validator string
	Signature []byte
	Timestamp int64 // UnixNano, UTC
	Hash      [32]byte
}

// Edge is a directed, labelled relation between two node ids.
type Edge struct {
	From  string
	To    string
	Label string
}

// Pattern is a triple-pattern query; a nil component matches anything.
type Pattern struct {
	Subject   *string
	Predicate *string
	Object    *string
}

// Match reports whether n's triple satisfies p component-wise.
func (p Pattern) Match(subject, predicate, object string) bool {
	if p.Subject != nil && *p.Subject != subject {
		return false
	}
	if p.Predicate != nil && *p.Predicate != predicate {
		return false
	}
	if p.Object != nil && *p.Object != object {
		return false
	}
	return true
}

// Row is one result of a pattern query: the node plus its outgoing edges.
type Row struct {
	ID            string
	Node          Node
	OutgoingEdges []Edge
}

// DAG is the in-memory authoritative store. All mutating operations are
// serialised by mu; reads may run concurrently with other reads.
type DAG struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges []Edge
	// outIndex maps a node id to the indices into edges it originates,
	// an optional acceleration structure the spec allows but does not
	// require.
	outIndex map[string][]int
}

// New creates an empty DAG.
func New() *DAG {
	return &DAG{
		nodes:    make(map[string]*Node),
		outIndex: make(map[string][]int),
	}
}

// AddNode inserts a new node. Returns apperr.AlreadyExists if id is taken.
func (d *DAG) AddNode(n Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[n.ID]; ok {
		return apperr.AlreadyExists(n.ID)
	}
	cp := n
	d.nodes[n.ID] = &cp
	return nil
}

// RemoveNode deletes a node added in error (used only to roll back a
// failed durable-mirror write; never exposed as a public store operation).
func (d *DAG) RemoveNode(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, id)
}

// AddEdge inserts a directed edge. Both endpoints must already exist.
func (d *DAG) AddEdge(e Edge) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[e.From]; !ok {
		return apperr.UnknownNode(e.From)
	}
	if _, ok := d.nodes[e.To]; !ok {
		return apperr.UnknownNode(e.To)
	}
	idx := len(d.edges)
	d.edges = append(d.edges, e)
	d.outIndex[e.From] = append(d.outIndex[e.From], idx)
	return nil
}

// RemoveLastEdgeFrom removes the most recently added edge originating at
// from, used only to roll back a failed durable-mirror write.
func (d *DAG) RemoveLastEdgeFrom(from string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idxs := d.outIndex[from]
	if len(idxs) == 0 {
		return
	}
	last := idxs[len(idxs)-1]
	d.outIndex[from] = idxs[:len(idxs)-1]
	// Leave a hole in d.edges rather than reindexing everything; the
	// index entry is dropped above, and outgoingLocked (behind
	// OutgoingEdges and Query) skips any zero-value Edge it still meets.
	d.edges[last] = Edge{}
}

// GetNode returns the node for id, or apperr.NotFound.
func (d *DAG) GetNode(id string) (Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return Node{}, apperr.NotFound(id)
	}
	return *n, nil
}

// GetAllNodes enumerates every node. Order is stable within a single call
// (ascending by id) but unspecified across calls to different DAG
// instances.
func (d *DAG) GetAllNodes() []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of nodes currently stored.
func (d *DAG) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// OutgoingEdges returns the edges originating at id, in insertion order.
func (d *DAG) OutgoingEdges(id string) []Edge {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.outgoingLocked(id)
}

func (d *DAG) outgoingLocked(id string) []Edge {
	idxs := d.outIndex[id]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Edge, 0, len(idxs))
	for _, i := range idxs {
		e := d.edges[i]
		if e.From == "" && e.To == "" {
			continue // tombstoned by RemoveLastEdgeFrom
		}
		out = append(out, e)
	}
	return out
}

// Query scans every node for a pattern match, linear in node count per the
// spec's explicit allowance (the cache layer above amortises repeats).
func (d *DAG) Query(p Pattern) []Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var rows []Row
	for id, n := range d.nodes {
		if !p.Match(n.Subject, n.Predicate, n.Object) {
			continue
		}
		rows = append(rows, Row{ID: id, Node: *n, OutgoingEdges: d.outgoingLocked(id)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}
