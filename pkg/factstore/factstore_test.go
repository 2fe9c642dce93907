package factstore

import (
	"testing"
	"time"

	"github.com/certnode/factledger/pkg/apperr"
	"github.com/certnode/factledger/pkg/chain"
	"github.com/certnode/factledger/pkg/crypto"
	"github.com/certnode/factledger/pkg/dag"
	"github.com/certnode/factledger/pkg/queue"
	"github.com/certnode/factledger/pkg/store"
	"github.com/certnode/factledger/pkg/validators"
)

type keyedSigner struct {
	keys map[string]*crypto.PrivateKey
}

func (s *keyedSigner) Sign(validatorID, subject, predicate, object string, ts time.Time) ([64]byte, error) {
	hash := crypto.CanonicalHash(subject, predicate, object, validatorID, ts)
	return crypto.Sign(s.keys[validatorID], hash)
}

func setup(t *testing.T, ids ...string) (*Store, map[string]*crypto.PrivateKey) {
	t.Helper()

	roster := validators.NewEmpty(100)
	keys := make(map[string]*crypto.PrivateKey)
	for i, id := range ids {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		keys[id] = priv
		voucher := id
		if i > 0 {
			voucher = ids[0]
		}
		if err := roster.AddValidator(id, pub, voucher); err != nil {
			t.Fatalf("AddValidator(%s): %v", id, err)
		}
	}

	coord := store.New(dag.New(), nil, store.Config{TestMode: true})
	server := chain.New(coord, roster, 0, chain.Config{RecordPerformance: true})
	signer := &keyedSigner{keys: keys}
	q := queue.New(server, signer, queue.Config{BatchSize: 10, Interval: 5 * time.Millisecond})

	return New(coord, roster, server, q), keys
}

func waitForStatus(t *testing.T, s *Store, ref string, want queue.Status) queue.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.GetTransactionStatus(ref)
		if err != nil {
			t.Fatalf("GetTransactionStatus: %v", err)
		}
		if st.Status == want {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ref %s never reached status %s", ref, want)
	return queue.Entry{}
}

func TestAppendSignedAppendsAndQueryFindsIt(t *testing.T) {
	s, keys := setup(t, "v1")

	ts := time.Now().UTC()
	hash := crypto.CanonicalHash("Alice", "knows", "Bob", "v1", ts)
	sig, err := crypto.Sign(keys["v1"], hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	node, err := s.server.AppendSigned(chain.Request{
		Subject: "Alice", Predicate: "knows", Object: "Bob",
		ValidatorID: "v1", Signature: sig,
	}, ts)
	if err != nil {
		t.Fatalf("AppendSigned: %v", err)
	}
	if node.ID != "tx1" {
		t.Fatalf("node id = %s, want tx1", node.ID)
	}

	rows := s.Query(dag.Pattern{Subject: strPtr("Alice")})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestAddTransactionAsyncReportsThroughStatus(t *testing.T) {
	s, _ := setup(t, "v1")
	ref := s.AddTransactionAsync("s1", "p1", "o1", "v1")

	st, err := s.GetTransactionStatus(ref)
	if err != nil {
		t.Fatalf("GetTransactionStatus: %v", err)
	}
	if st.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", st.Status)
	}

	s.StartQueue()
	defer s.StopQueue()
	waitForStatus(t, s, ref, queue.StatusCommitted)
}

func TestExecuteSPARQLRejectsForbiddenKeyword(t *testing.T) {
	s, _ := setup(t, "v1")
	_, err := s.ExecuteSPARQL(`SELECT ?s WHERE { ?s ?p ?o } DELETE { ?s ?p ?o }`)
	if k, ok := apperr.Of(err); !ok || k != apperr.KindSecurityViolation {
		t.Fatalf("expected SecurityViolation, got %v", err)
	}
}

func TestValidatorRosterOperations(t *testing.T) {
	s, _ := setup(t, "v1")
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if err := s.AddValidator("v2", pub, "v1"); err != nil {
		t.Fatalf("AddValidator: %v", err)
	}
	if len(s.GetValidators()) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(s.GetValidators()))
	}
	if err := s.RemoveValidator("v1"); err != nil {
		t.Fatalf("RemoveValidator: %v", err)
	}
	if err := s.RemoveValidator("v2"); !isCannotRemoveLast(err) {
		t.Fatalf("expected CannotRemoveLast removing the last validator, got %v", err)
	}
}

func isCannotRemoveLast(err error) bool {
	k, ok := apperr.Of(err)
	return ok && k == apperr.KindCannotRemoveLast
}

func TestCacheAndPerformanceAndQueueMetricsAreReachable(t *testing.T) {
	s, _ := setup(t, "v1")

	_ = s.GetCacheMetrics()
	_ = s.GetPerformanceMetrics()
	status := s.GetQueueStatus()
	if status.WorkerState != queue.StateStopped {
		t.Fatalf("worker state = %v, want stopped before Start", status.WorkerState)
	}
}

func strPtr(s string) *string { return &s }
