// Copyright 2025 Certnode Project
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certnode/factledger/pkg/chain"
	"github.com/certnode/factledger/pkg/config"
	"github.com/certnode/factledger/pkg/crypto"
	"github.com/certnode/factledger/pkg/factstore"
	"github.com/certnode/factledger/pkg/mirror"
	"github.com/certnode/factledger/pkg/queue"
	"github.com/certnode/factledger/pkg/store"
	"github.com/certnode/factledger/pkg/validators"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		httpAddr = flag.String("http-addr", ":8090", "listen address for /metrics and /healthz")
		showHelp = flag.Bool("help", false, "show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("starting factledgerd node_id=%s db_path=%s validators_dir=%s", cfg.NodeID, cfg.DBPath, cfg.ValidatorsDir)

	durable, err := mirror.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open durable mirror: %v", err)
	}
	mem, err := durable.Replay()
	if err != nil {
		log.Fatalf("replay durable mirror: %v", err)
	}
	log.Printf("replayed %d nodes from durable mirror", mem.Count())

	registerer := prometheus.NewRegistry()
	coord := store.New(mem, durable, store.Config{
		Cache: store.CacheConfig{
			TTL:            cfg.CacheTTL(),
			MaxSize:        cfg.CacheMaxSize,
			PruneThreshold: cfg.CachePrune,
		},
		Registerer: registerer,
	})

	roster, err := validators.Load(validators.Config{
		ValidatorsDir:     cfg.ValidatorsDir,
		PerformanceWindow: cfg.PerformanceWindow,
	})
	if err != nil {
		log.Fatalf("load validator roster: %v", err)
	}
	log.Printf("loaded %d validators from %s", len(roster.All()), cfg.ValidatorsDir)

	server := chain.New(coord, roster, mem.Count(), chain.Config{RecordPerformance: true})

	km := crypto.NewKeyManager(filepath.Join(cfg.DBPath, "node_key.hex"))
	if err := km.LoadOrGenerate(); err != nil {
		log.Fatalf("load or generate node signing key: %v", err)
	}
	if cfg.NodeID != "" && !roster.Exists(cfg.NodeID) {
		log.Printf("node_id %s is not on the roster yet; writing its public key to %s for an existing validator to vouch for", cfg.NodeID, cfg.ValidatorsDir)
		if err := km.WritePublicKeyFile(cfg.ValidatorsDir, cfg.NodeID); err != nil {
			log.Printf("write public key file: %v", err)
		}
	}

	q := queue.New(server, &nodeSigner{priv: km.PrivateKey()}, queue.Config{
		BatchSize: cfg.QueueBatchSize,
		Interval:  cfg.QueueInterval(),
	})
	q.Start()
	defer q.Stop()

	fs := factstore.New(coord, roster, server, q)
	_ = fs // wired for in-process callers; the HTTP/JSON API layer is out of scope (spec §1)

	httpServer := &http.Server{Addr: *httpAddr, Handler: newMux(registerer)}
	go func() {
		log.Printf("metrics/health listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	log.Println("factledgerd stopped")
}

// newMux builds the only HTTP surface factledgerd exposes: metrics and a
// liveness probe. The fact-store API itself is in-process only (spec §1).
func newMux(registerer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthzHandler)
	return mux
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// nodeSigner signs dequeued entries with this node's own key, per spec §9:
// the worker always signs as whichever validator turn resolution assigns,
// so in a real deployment the queue only ever succeeds when this node's
// own validator id is the one ExpectedValidator() returns.
type nodeSigner struct {
	priv *crypto.PrivateKey
}

func (s *nodeSigner) Sign(validatorID, subject, predicate, object string, ts time.Time) ([64]byte, error) {
	hash := crypto.CanonicalHash(subject, predicate, object, validatorID, ts)
	return crypto.Sign(s.priv, hash)
}
