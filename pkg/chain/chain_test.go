package chain

import (
	"testing"
	"time"

	"github.com/certnode/factledger/pkg/apperr"
	"github.com/certnode/factledger/pkg/crypto"
	"github.com/certnode/factledger/pkg/dag"
	"github.com/certnode/factledger/pkg/store"
	"github.com/certnode/factledger/pkg/validators"
)

type testValidator struct {
	id   string
	priv *crypto.PrivateKey
	pub  *crypto.PublicKey
}

func newTestValidator(t *testing.T, id string) testValidator {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return testValidator{id: id, priv: priv, pub: pub}
}

func newTestRoster(t *testing.T, vs ...testValidator) *validators.Roster {
	t.Helper()
	r := validators.NewEmpty(100)
	for i, v := range vs {
		if i == 0 {
			if err := seedFirst(r, v); err != nil {
				t.Fatalf("seed first validator: %v", err)
			}
			continue
		}
		if err := r.AddValidator(v.id, v.pub, vs[0].id); err != nil {
			t.Fatalf("AddValidator(%s): %v", v.id, err)
		}
	}
	return r
}

// seedFirst bootstraps the roster's first member, who by construction has
// no voucher, via the self-vouch idiom tests use throughout this module.
func seedFirst(r *validators.Roster, v testValidator) error {
	return r.AddValidator(v.id, v.pub, v.id)
}

func newTestServer(t *testing.T, vs ...testValidator) (*Server, *validators.Roster) {
	t.Helper()
	roster := newTestRoster(t, vs...)
	coord := store.New(dag.New(), nil, store.Config{TestMode: true})
	return New(coord, roster, 0, Config{RecordPerformance: true}), roster
}

func TestAppendRejectsUnknownValidator(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	s, _ := newTestServer(t, v1)

	_, err := s.Append(Request{Subject: "s", Predicate: "p", Object: "o", ValidatorID: "ghost"})
	if k, ok := apperr.Of(err); !ok || k != apperr.KindUnknownValidator {
		t.Fatalf("expected UnknownValidator, got %v", err)
	}
}

func TestAppendRejectsWrongTurn(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	v2 := newTestValidator(t, "v2")
	s, _ := newTestServer(t, v1, v2)

	// tx_count starts at 0, so v1 is expected; v2 submitting is out of turn.
	_, err := s.Append(Request{Subject: "s", Predicate: "p", Object: "o", ValidatorID: "v2"})
	if k, ok := apperr.Of(err); !ok || k != apperr.KindNotYourTurn {
		t.Fatalf("expected NotYourTurn, got %v", err)
	}
}

func TestAppendRejectsBadSignature(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	s, _ := newTestServer(t, v1)

	_, err := s.Append(Request{
		Subject: "s", Predicate: "p", Object: "o",
		ValidatorID: "v1",
		Signature:   crypto.Signature{}, // all-zero, never verifies
	})
	if k, ok := apperr.Of(err); !ok || k != apperr.KindBadSignature {
		t.Fatalf("expected BadSignature, got %v", err)
	}
}

func TestAppendAdvancesTurnAndAllocatesIDs(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	v2 := newTestValidator(t, "v2")
	s, _ := newTestServer(t, v1, v2)

	n1, err := s.appendSigned(t, v1, "s1", "p1", "o1")
	if err != nil {
		t.Fatalf("append by v1: %v", err)
	}
	if n1.ID != "tx1" {
		t.Fatalf("first node id = %s, want tx1", n1.ID)
	}

	// v1 again would now be out of turn.
	if _, err := s.appendSigned(t, v1, "s2", "p2", "o2"); err == nil {
		t.Fatal("expected NotYourTurn for v1 appending twice in a row")
	}

	n2, err := s.appendSigned(t, v2, "s2", "p2", "o2")
	if err != nil {
		t.Fatalf("append by v2: %v", err)
	}
	if n2.ID != "tx2" {
		t.Fatalf("second node id = %s, want tx2", n2.ID)
	}

	nodes := s.coord.GetAllNodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes in the dag, got %d", len(nodes))
	}
}

func TestAppendAutomaticallyAddsConfirmsEdge(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	v2 := newTestValidator(t, "v2")
	s, _ := newTestServer(t, v1, v2)

	n1, err := s.appendSigned(t, v1, "s1", "p1", "o1")
	if err != nil {
		t.Fatalf("append by v1: %v", err)
	}
	n2, err := s.appendSigned(t, v2, "s2", "p2", "o2")
	if err != nil {
		t.Fatalf("append by v2: %v", err)
	}

	edges := s.coord.OutgoingEdges(n2.ID)
	if len(edges) != 1 || edges[0].To != n1.ID || edges[0].Label != "confirms" {
		t.Fatalf("expected %s to carry a confirms edge to %s, got %+v", n2.ID, n1.ID, edges)
	}
}

func TestFirstAppendHasNoConfirmsEdge(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	s, _ := newTestServer(t, v1)

	n1, err := s.appendSigned(t, v1, "s1", "p1", "o1")
	if err != nil {
		t.Fatalf("append by v1: %v", err)
	}
	if edges := s.coord.OutgoingEdges(n1.ID); len(edges) != 0 {
		t.Fatalf("expected the first node to have no confirms edge, got %+v", edges)
	}
}

func TestPerformanceRecordedOnOutcome(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	v2 := newTestValidator(t, "v2")
	s, roster := newTestServer(t, v1, v2)

	if _, err := s.appendSigned(t, v1, "s1", "p1", "o1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	stats := roster.GetPerformanceMetrics()["v1"]
	if stats.TotalTransactions != 1 || stats.SuccessfulTransactions != 1 {
		t.Fatalf("expected one successful outcome recorded, got %+v", stats)
	}
}

// appendSigned signs against a fixed timestamp and drives appendAt with
// that same timestamp, so the signature is guaranteed to verify.
func (s *Server) appendSigned(t *testing.T, v testValidator, subject, predicate, object string) (dag.Node, error) {
	t.Helper()
	ts := time.Now().UTC()
	hash := crypto.CanonicalHash(subject, predicate, object, v.id, ts)
	sig, err := crypto.Sign(v.priv, hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return s.appendAt(Request{
		Subject: subject, Predicate: predicate, Object: object,
		ValidatorID: v.id, Signature: sig,
	}, ts)
}
