package dag

import (
	"testing"

	"github.com/certnode/factledger/pkg/apperr"
)

func strPtr(s string) *string { return &s }

func TestAddNodeRejectsDuplicateID(t *testing.T) {
	d := New()
	if err := d.AddNode(Node{ID: "tx1", Subject: "Alice"}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	err := d.AddNode(Node{ID: "tx1", Subject: "Bob"})
	if k, ok := apperr.Of(err); !ok || k != apperr.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestAddEdgeRequiresBothEndpoints(t *testing.T) {
	d := New()
	d.AddNode(Node{ID: "tx1"})
	if err := d.AddEdge(Edge{From: "tx1", To: "missing", Label: "confirms"}); err == nil {
		t.Fatal("expected error for unknown edge endpoint")
	}
	d.AddNode(Node{ID: "tx2"})
	if err := d.AddEdge(Edge{From: "tx1", To: "tx2", Label: "confirms"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
}

func TestQueryMatchesPatternComponentwise(t *testing.T) {
	d := New()
	d.AddNode(Node{ID: "tx1", Subject: "Alice", Predicate: "knows", Object: "Bob"})
	d.AddNode(Node{ID: "tx2", Subject: "Alice", Predicate: "knows", Object: "Carol"})
	d.AddNode(Node{ID: "tx3", Subject: "Bob", Predicate: "knows", Object: "Carol"})

	rows := d.Query(Pattern{Subject: strPtr("Alice")})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for Subject=Alice, got %d", len(rows))
	}

	rows = d.Query(Pattern{Object: strPtr("Carol")})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for Object=Carol, got %d", len(rows))
	}

	rows = d.Query(Pattern{})
	if len(rows) != 3 {
		t.Fatalf("expected empty pattern to match all 3 rows, got %d", len(rows))
	}
}

func TestQueryResultsAreOrderedByID(t *testing.T) {
	d := New()
	d.AddNode(Node{ID: "tx3", Subject: "X"})
	d.AddNode(Node{ID: "tx1", Subject: "X"})
	d.AddNode(Node{ID: "tx2", Subject: "X"})

	rows := d.Query(Pattern{Subject: strPtr("X")})
	if len(rows) != 3 || rows[0].ID != "tx1" || rows[1].ID != "tx2" || rows[2].ID != "tx3" {
		t.Fatalf("expected ascending id order, got %+v", rows)
	}
}

func TestQueryIncludesOutgoingEdges(t *testing.T) {
	d := New()
	d.AddNode(Node{ID: "tx1", Subject: "A"})
	d.AddNode(Node{ID: "tx2", Subject: "B"})
	d.AddEdge(Edge{From: "tx1", To: "tx2", Label: "confirms"})

	rows := d.Query(Pattern{Subject: strPtr("A")})
	if len(rows) != 1 || len(rows[0].OutgoingEdges) != 1 {
		t.Fatalf("expected tx1's row to carry its one outgoing edge, got %+v", rows)
	}
}

func TestRemoveLastEdgeFromTombstonesWithoutReindexing(t *testing.T) {
	d := New()
	d.AddNode(Node{ID: "tx1"})
	d.AddNode(Node{ID: "tx2"})
	d.AddNode(Node{ID: "tx3"})
	d.AddEdge(Edge{From: "tx1", To: "tx2", Label: "confirms"})
	d.AddEdge(Edge{From: "tx1", To: "tx3", Label: "confirms"})

	d.RemoveLastEdgeFrom("tx1")
	edges := d.OutgoingEdges("tx1")
	if len(edges) != 1 || edges[0].To != "tx2" {
		t.Fatalf("expected only the first edge to remain, got %+v", edges)
	}
}

func TestCountReflectsNodesOnly(t *testing.T) {
	d := New()
	if d.Count() != 0 {
		t.Fatalf("Count() on empty DAG = %d, want 0", d.Count())
	}
	d.AddNode(Node{ID: "tx1"})
	d.AddNode(Node{ID: "tx2"})
	if d.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", d.Count())
	}
}

func TestGetNodeReturnsNotFoundForMissingID(t *testing.T) {
	d := New()
	_, err := d.GetNode("missing")
	if k, ok := apperr.Of(err); !ok || k != apperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
