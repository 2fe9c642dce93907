package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certnode/factledger/pkg/chain"
	"github.com/certnode/factledger/pkg/crypto"
	"github.com/certnode/factledger/pkg/dag"
	"github.com/certnode/factledger/pkg/factstore"
	"github.com/certnode/factledger/pkg/mirror"
	"github.com/certnode/factledger/pkg/queue"
	"github.com/certnode/factledger/pkg/store"
	"github.com/certnode/factledger/pkg/validators"
)

func TestHealthzHandlerReturnsOK(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	healthzHandler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q, want ok", rec.Body.String())
	}
}

func TestNewMuxServesMetricsAndHealthz(t *testing.T) {
	reg := prometheus.NewRegistry()
	mux := newMux(reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("/healthz status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("/metrics status = %d, want 200", rec.Code)
	}
}

func TestNodeSignerProducesVerifiableSignature(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	signer := &nodeSigner{priv: priv}

	ts := time.Now().UTC()
	sig, err := signer.Sign("v1", "Alice", "knows", "Bob", ts)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	hash := crypto.CanonicalHash("Alice", "knows", "Bob", "v1", ts)
	if !crypto.Verify(pub, hash, sig) {
		t.Fatal("signature does not verify against the signer's own public key")
	}
}

// TestNodeWiringEndToEnd exercises the same construction order main() uses
// (mirror -> store -> validators -> chain -> queue -> factstore) against a
// throwaway directory, then drives one transaction through it.
func TestNodeWiringEndToEnd(t *testing.T) {
	dir := t.TempDir()

	durable, err := mirror.Open(dir)
	if err != nil {
		t.Fatalf("mirror.Open: %v", err)
	}
	mem, err := durable.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	coord := store.New(mem, durable, store.Config{
		Cache:      store.CacheConfig{TTL: time.Minute, MaxSize: 100, PruneThreshold: 80},
		Registerer: prometheus.NewRegistry(),
	})

	validatorsDir := filepath.Join(dir, "validators")
	km := crypto.NewKeyManager(filepath.Join(dir, "node_key.hex"))
	km.LoadOrGenerate()
	if err := os.MkdirAll(validatorsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := km.WritePublicKeyFile(validatorsDir, "v1"); err != nil {
		t.Fatalf("WritePublicKeyFile: %v", err)
	}

	roster, err := validators.Load(validators.Config{ValidatorsDir: validatorsDir, PerformanceWindow: 100})
	if err != nil {
		t.Fatalf("validators.Load: %v", err)
	}
	if !roster.Exists("v1") {
		t.Fatal("expected v1 to be loaded from validators dir")
	}

	server := chain.New(coord, roster, mem.Count(), chain.Config{RecordPerformance: true})
	q := queue.New(server, &nodeSigner{priv: km.PrivateKey()}, queue.Config{BatchSize: 10, Interval: 5 * time.Millisecond})
	fs := factstore.New(coord, roster, server, q)

	ref := fs.AddTransactionAsync("Alice", "knows", "Bob", "v1")
	fs.StartQueue()
	defer fs.StopQueue()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := fs.GetTransactionStatus(ref)
		if err != nil {
			t.Fatalf("GetTransactionStatus: %v", err)
		}
		if st.Status == queue.StatusCommitted {
			rows := fs.Query(dag.Pattern{Subject: strPtrMain("Alice")})
			if len(rows) != 1 {
				t.Fatalf("expected 1 row after commit, got %d", len(rows))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("transaction never committed")
}

func strPtrMain(s string) *string { return &s }
