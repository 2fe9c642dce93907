package queue

import (
	"testing"
	"time"

	"github.com/certnode/factledger/pkg/chain"
	"github.com/certnode/factledger/pkg/crypto"
	"github.com/certnode/factledger/pkg/dag"
	"github.com/certnode/factledger/pkg/store"
	"github.com/certnode/factledger/pkg/validators"
)

// keyedSigner signs on behalf of whichever validator id it's asked for,
// using private keys handed to it at construction, so one signer can act
// for every validator in a multi-validator test roster.
type keyedSigner struct {
	keys map[string]*crypto.PrivateKey
}

func (s *keyedSigner) Sign(validatorID, subject, predicate, object string, ts time.Time) ([64]byte, error) {
	hash := crypto.CanonicalHash(subject, predicate, object, validatorID, ts)
	sig, err := crypto.Sign(s.keys[validatorID], hash)
	if err != nil {
		return [64]byte{}, err
	}
	return sig, nil
}

func setup(t *testing.T, ids ...string) (*Queue, *chain.Server) {
	t.Helper()

	roster := validators.NewEmpty(100)
	signer := &keyedSigner{keys: make(map[string]*crypto.PrivateKey)}
	for i, id := range ids {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		signer.keys[id] = priv
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
	q := New(server, signer, Config{BatchSize: 10, Interval: time.Hour})
	return q, server
}

func TestSubmitReturnsRefImmediately(t *testing.T) {
	q, _ := setup(t, "v1")
	ref := q.Submit("s", "p", "o", "v1")
	if ref == "" {
		t.Fatal("expected a non-empty ref")
	}
	status, err := q.GetStatus(ref)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != StatusPending {
		t.Fatalf("status = %s, want pending", status.Status)
	}
}

func TestDrainCommitsInFIFOOrderAndOverridesValidator(t *testing.T) {
	q, _ := setup(t, "v1", "v2")

	// Client submits both as "v1" even though the second one will actually
	// be v2's turn; the worker must override RequestedValidator.
	ref1 := q.Submit("s1", "p1", "o1", "v1")
	ref2 := q.Submit("s2", "p2", "o2", "v1")

	q.drainOnce()

	st1, err := q.GetStatus(ref1)
	if err != nil {
		t.Fatalf("GetStatus ref1: %v", err)
	}
	if st1.Status != StatusCommitted {
		t.Fatalf("ref1 status = %s, want committed (err=%v)", st1.Status, st1.Error)
	}
	if st1.ActualValidator != "v1" {
		t.Fatalf("ref1 actual validator = %s, want v1", st1.ActualValidator)
	}
	if st1.Node.ID != "tx1" {
		t.Fatalf("ref1 node id = %s, want tx1", st1.Node.ID)
	}

	st2, err := q.GetStatus(ref2)
	if err != nil {
		t.Fatalf("GetStatus ref2: %v", err)
	}
	if st2.Status != StatusCommitted {
		t.Fatalf("ref2 status = %s, want committed (err=%v)", st2.Status, st2.Error)
	}
	if st2.RequestedValidator != "v1" {
		t.Fatalf("ref2 requested validator = %s, want v1", st2.RequestedValidator)
	}
	if st2.ActualValidator != "v2" {
		t.Fatalf("ref2 actual validator = %s, want v2 (queue must override the client's choice)", st2.ActualValidator)
	}
}

func TestSetProcessingRateLimitsBatchSize(t *testing.T) {
	q, _ := setup(t, "v1")
	q.SetProcessingRate(1, time.Hour)

	ref1 := q.Submit("s1", "p1", "o1", "v1")
	ref2 := q.Submit("s2", "p2", "o2", "v1")

	q.drainOnce()

	st1, _ := q.GetStatus(ref1)
	if st1.Status != StatusCommitted {
		t.Fatalf("ref1 status = %s, want committed", st1.Status)
	}
	st2, _ := q.GetStatus(ref2)
	if st2.Status != StatusPending {
		t.Fatalf("ref2 status = %s, want still pending (batch size 1)", st2.Status)
	}

	status := q.Status()
	if status.Length != 1 {
		t.Fatalf("queue length = %d, want 1", status.Length)
	}
}

func TestClearDropsPendingEntries(t *testing.T) {
	q, _ := setup(t, "v1")
	q.Submit("s1", "p1", "o1", "v1")
	q.Submit("s2", "p2", "o2", "v1")

	q.Clear()

	if status := q.Status(); status.Length != 0 {
		t.Fatalf("queue length after Clear = %d, want 0", status.Length)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	q, _ := setup(t, "v1")
	q.cfg.Interval = 5 * time.Millisecond

	ref := q.Submit("s", "p", "o", "v1")
	q.Start()
	defer q.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, _ := q.GetStatus(ref)
		if st.Status == StatusCommitted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("entry was never committed by the worker")
}
