// Copyright 2025 Certnode Project
//
// Package mirror persists every DAG node and edge to a content-addressed
// directory tree (nodes/<tx-id>.bin, edges/<from>_<to>.bin) and replays
// that tree back into an in-memory dag.DAG on start. Encoding is RLP, a
// deterministic, language-neutral, length-prefixed binary format.
package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/certnode/factledger/pkg/dag"
)

const (
	nodesDir = "nodes"
	edgesDir = "edges"
)

// Mirror is the durable counterpart to an in-memory dag.DAG.
type Mirror struct {
	root string
}

// Open prepares (creating if necessary) the node/edge subdirectories under
// root.
func Open(root string) (*Mirror, error) {
	for _, sub := range []string{nodesDir, edgesDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &Mirror{root: root}, nil
}

// rlpNode / rlpEdge are the wire shapes written to disk. RLP requires
// fixed-width or explicitly-lengthed fields; []byte and string both encode
// as length-prefixed byte strings, which is all RLP needs here.
type rlpNode struct {
	ID        string
	Subject   string
	Predicate string
	Object    string
	Validator string
	Signature []byte
	Timestamp int64
	Hash      []byte
}

type rlpEdge struct {
	From  string
	To    string
	Label string
}

func toRLPNode(n dag.Node) rlpNode {
	return rlpNode{
		ID:        n.ID,
		Subject:   n.Subject,
		Predicate: n.Predicate,
		Object:    n.Object,
		Validator: n.Validator,
		Signature: n.Signature,
		Timestamp: n.Timestamp,
		Hash:      n.Hash[:],
	}
}

func fromRLPNode(r rlpNode) dag.Node {
	n := dag.Node{
		ID:        r.ID,
		Subject:   r.Subject,
		Predicate: r.Predicate,
		Object:    r.Object,
		Validator: r.Validator,
		Signature: r.Signature,
		Timestamp: r.Timestamp,
	}
	copy(n.Hash[:], r.Hash)
	return n
}

// nodePath and edgePath compute the on-disk location for a node/edge per
// the fixed external layout.
func (m *Mirror) nodePath(id string) string {
	return filepath.Join(m.root, nodesDir, id+".bin")
}

func (m *Mirror) edgePath(from, to string) string {
	return filepath.Join(m.root, edgesDir, from+"_"+to+".bin")
}

// writeAtomic encodes v and writes it to path via temp-file-then-rename so
// a crash never leaves a partially-written file observable.
func writeAtomic(path string, v interface{}) error {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("rlp encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WriteNode persists a node.
func (m *Mirror) WriteNode(n dag.Node) error {
	return writeAtomic(m.nodePath(n.ID), toRLPNode(n))
}

// WriteEdge persists an edge.
func (m *Mirror) WriteEdge(e dag.Edge) error {
	return writeAtomic(m.edgePath(e.From, e.To), rlpEdge{From: e.From, To: e.To, Label: e.Label})
}

// ReadNode loads a single node back, used by the coordinator's
// read-fallback path.
func (m *Mirror) ReadNode(id string) (dag.Node, bool, error) {
	b, err := os.ReadFile(m.nodePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return dag.Node{}, false, nil
		}
		return dag.Node{}, false, fmt.Errorf("read node file: %w", err)
	}
	var r rlpNode
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return dag.Node{}, false, fmt.Errorf("rlp decode node: %w", err)
	}
	return fromRLPNode(r), true, nil
}

// Replay walks the durable tree and rebuilds a fresh dag.DAG. Nodes are
// applied first (sorted by id, which for this store's dense tx{N}
// numbering is also creation order), then edges, so AddEdge never sees an
// unknown endpoint.
func (m *Mirror) Replay() (*dag.DAG, error) {
	d := dag.New()

	nodeEntries, err := os.ReadDir(filepath.Join(m.root, nodesDir))
	if err != nil {
		return nil, fmt.Errorf("list nodes dir: %w", err)
	}
	ids := make([]string, 0, len(nodeEntries))
	for _, e := range nodeEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".bin"))
	}
	sortByTxNumber(ids)

	for _, id := range ids {
		n, ok, err := m.ReadNode(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := d.AddNode(n); err != nil {
			return nil, fmt.Errorf("replay node %s: %w", id, err)
		}
	}

	edgeEntries, err := os.ReadDir(filepath.Join(m.root, edgesDir))
	if err != nil {
		return nil, fmt.Errorf("list edges dir: %w", err)
	}
	for _, e := range edgeEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(m.root, edgesDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read edge file %s: %w", e.Name(), err)
		}
		var r rlpEdge
		if err := rlp.DecodeBytes(b, &r); err != nil {
			return nil, fmt.Errorf("rlp decode edge %s: %w", e.Name(), err)
		}
		if err := d.AddEdge(dag.Edge{From: r.From, To: r.To, Label: r.Label}); err != nil {
			return nil, fmt.Errorf("replay edge %s: %w", e.Name(), err)
		}
	}

	return d, nil
}

// sortByTxNumber orders ids like "tx1", "tx2", ..., "tx10" numerically
// rather than lexically, so replay preserves append order regardless of
// directory listing order, per the spec's "replay preserves order by id"
// invariant.
func sortByTxNumber(ids []string) {
	num := func(s string) int {
		n := 0
		for _, c := range strings.TrimPrefix(s, "tx") {
			if c < '0' || c > '9' {
				return -1
			}
			n = n*10 + int(c-'0')
		}
		return n
	}
	sort.Slice(ids, func(i, j int) bool { return num(ids[i]) < num(ids[j]) })
}
