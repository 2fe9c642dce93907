// Copyright 2025 Certnode Project
//
// Package chain implements the blockchain server: the single append path
// that turns a client-submitted triple into a signed, ordered DAG node.
// Every step runs under one mutex, so the five-step algorithm in spec §4.5
// is strictly serialised per node.
package chain

import (
	"fmt"
	"sync"
	"time"

	"github.com/certnode/factledger/pkg/apperr"
	cryptopkg "github.com/certnode/factledger/pkg/crypto"
	"github.com/certnode/factledger/pkg/dag"
	"github.com/certnode/factledger/pkg/store"
	"github.com/certnode/factledger/pkg/validators"
)

// Request is a single append request: a fact plus the claimed validator
// and its signature over the canonical hash.
type Request struct {
	Subject     string
	Predicate   string
	Object      string
	ValidatorID string
	Signature   cryptopkg.Signature
}

// Server is the PoA append path described in spec §4.5. It owns the
// system-wide tx_count used both to derive the expected validator turn and
// to allocate new node ids ("tx{N}").
type Server struct {
	mu         sync.Mutex
	coord      *store.Coordinator
	roster     *validators.Roster
	txCount    int
	recordPerf bool
}

// Config controls server construction.
type Config struct {
	// RecordPerformance controls whether a successful/failed append also
	// records an outcome against the acting validator's performance
	// window. Tests that don't care about performance tracking can
	// disable this.
	RecordPerformance bool
}

// New constructs a Server over an already-populated coordinator and
// roster. txCount should be seeded from the coordinator's node count on
// startup so turn order survives a restart.
func New(coord *store.Coordinator, roster *validators.Roster, startingTxCount int, cfg Config) *Server {
	return &Server{
		coord:      coord,
		roster:     roster,
		txCount:    startingTxCount,
		recordPerf: cfg.RecordPerformance,
	}
}

// Append runs the five-step ingestion algorithm: resolve the expected
// validator for the current turn, verify the caller is that validator,
// verify the signature, allocate an id and persist the node (and its
// confirms edge, if any), then advance tx_count and record the acting
// validator's performance.
func (s *Server) Append(req Request) (dag.Node, error) {
	return s.appendAt(req, time.Now().UTC())
}

// AppendSigned is Append with the signing timestamp taken as a parameter
// rather than read from the clock. The queue worker uses this: it signs
// a dequeued entry against a timestamp it chooses itself, then must hash
// that same instant on append for the signature to verify.
func (s *Server) AppendSigned(req Request, ts time.Time) (dag.Node, error) {
	return s.appendAt(req, ts)
}

func (s *Server) appendAt(req Request, ts time.Time) (dag.Node, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expected, err := s.roster.CurrentValidator(s.txCount)
	if err != nil {
		return dag.Node{}, err
	}
	if !s.roster.Exists(req.ValidatorID) {
		return dag.Node{}, apperr.UnknownValidator(req.ValidatorID)
	}
	if req.ValidatorID != expected.ID {
		return dag.Node{}, apperr.NotYourTurn(expected.ID, req.ValidatorID)
	}

	v, _ := s.roster.Get(req.ValidatorID)
	hash := cryptopkg.CanonicalHash(req.Subject, req.Predicate, req.Object, req.ValidatorID, ts)
	if !cryptopkg.Verify(v.PublicKey, hash, req.Signature) {
		s.recordOutcome(req.ValidatorID, false, time.Since(start))
		return dag.Node{}, apperr.BadSignature("signature does not verify for validator " + req.ValidatorID)
	}

	id := fmt.Sprintf("tx%d", s.txCount+1)
	node := dag.Node{
		ID:        id,
		Subject:   req.Subject,
		Predicate: req.Predicate,
		Object:    req.Object,
		Validator: req.ValidatorID,
		Signature: req.Signature[:],
		Timestamp: ts.UnixNano(),
		Hash:      hash,
	}

	if err := s.coord.AddNode(node); err != nil {
		s.recordOutcome(req.ValidatorID, false, time.Since(start))
		return dag.Node{}, err
	}
	if s.txCount > 0 {
		confirms := fmt.Sprintf("tx%d", s.txCount)
		if err := s.coord.AddEdge(dag.Edge{From: node.ID, To: confirms, Label: "confirms"}); err != nil {
			s.recordOutcome(req.ValidatorID, false, time.Since(start))
			return dag.Node{}, err
		}
	}

	s.txCount++
	s.recordOutcome(req.ValidatorID, true, time.Since(start))

	return node, nil
}

func (s *Server) recordOutcome(validatorID string, success bool, elapsed time.Duration) {
	if !s.recordPerf {
		return
	}
	s.roster.RecordTransactionPerformance(validatorID, success, elapsed.Microseconds())
}

// TxCount returns the current append count. The queue worker does not
// read it; it asks ExpectedValidator for whose turn is next.
func (s *Server) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// ExpectedValidator returns who is due to append next without mutating
// any state, used by the queue to decide which validator_id to stamp onto
// a dequeued request (spec §9: the queue always overrides the
// client-supplied validator_id with the actual current turn).
func (s *Server) ExpectedValidator() (validators.Validator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.CurrentValidator(s.txCount)
}
