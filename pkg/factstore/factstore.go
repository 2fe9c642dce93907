// Copyright 2025 Certnode Project
//
// Package factstore is the public in-process API described in spec §6: the
// single boundary the excluded HTTP/JSON layer depends on, composing the
// chain server, transaction queue, SPARQL pipeline, validator roster and
// storage coordinator behind one surface.
package factstore

import (
	"github.com/certnode/factledger/pkg/chain"
	"github.com/certnode/factledger/pkg/crypto"
	"github.com/certnode/factledger/pkg/dag"
	"github.com/certnode/factledger/pkg/queue"
	"github.com/certnode/factledger/pkg/sparql"
	"github.com/certnode/factledger/pkg/store"
	"github.com/certnode/factledger/pkg/validators"
)

// Store is the facade described in spec §6.
type Store struct {
	coord  *store.Coordinator
	roster *validators.Roster
	server *chain.Server
	queue  *queue.Queue
}

// New assembles a Store over already-constructed components. Callers in
// cmd/factledgerd own the wiring (config load, mirror replay, roster load);
// Store only orchestrates calls across them.
func New(coord *store.Coordinator, roster *validators.Roster, server *chain.Server, q *queue.Queue) *Store {
	return &Store{coord: coord, roster: roster, server: server, queue: q}
}

// AddTransaction appends a synchronously-verified transaction and blocks
// until the append completes, per spec §6's add_transaction. The confirms
// edge to the prior node is derived automatically from tx_count; callers
// never specify it.
func (s *Store) AddTransaction(subject, predicate, object, validatorID string, sig crypto.Signature) (dag.Node, error) {
	return s.server.Append(chain.Request{
		Subject:     subject,
		Predicate:   predicate,
		Object:      object,
		ValidatorID: validatorID,
		Signature:   sig,
	})
}

// AddTransactionAsync enqueues a transaction for asynchronous processing
// and returns immediately with a tracking ref, per spec §6.
func (s *Store) AddTransactionAsync(subject, predicate, object, requestedValidator string) string {
	return s.queue.Submit(subject, predicate, object, requestedValidator)
}

// GetTransactionStatus reports an async submission's current outcome.
func (s *Store) GetTransactionStatus(ref string) (queue.Entry, error) {
	return s.queue.GetStatus(ref)
}

// Query runs a raw triple pattern against the storage coordinator.
func (s *Store) Query(p dag.Pattern) []dag.Row {
	return s.coord.Query(p)
}

// ExecuteSPARQL parses and runs a SPARQL-subset query string end to end.
func (s *Store) ExecuteSPARQL(queryString string) ([]sparql.Binding, error) {
	q, err := sparql.Parse(queryString)
	if err != nil {
		return nil, err
	}
	return sparql.Execute(q, s.coord)
}

// GetValidators returns the current roster.
func (s *Store) GetValidators() []validators.Validator {
	return s.roster.All()
}

// AddValidator admits a new validator, vouched for by an existing one.
func (s *Store) AddValidator(id string, pub *crypto.PublicKey, vouchedBy string) error {
	return s.roster.AddValidator(id, pub, vouchedBy)
}

// RemoveValidator removes a validator from the roster.
func (s *Store) RemoveValidator(id string) error {
	return s.roster.RemoveValidator(id)
}

// GetCacheMetrics reports the query cache's hit/miss/size snapshot.
func (s *Store) GetCacheMetrics() store.CacheMetrics {
	return s.coord.CacheMetrics()
}

// GetPerformanceMetrics reports per-validator transaction stats.
func (s *Store) GetPerformanceMetrics() map[string]validators.Stats {
	return s.roster.GetPerformanceMetrics()
}

// GetQueueStatus reports the async queue's length, counters and worker state.
func (s *Store) GetQueueStatus() queue.QueueStatus {
	return s.queue.Status()
}

// StartQueue starts the background drain worker.
func (s *Store) StartQueue() {
	s.queue.Start()
}

// StopQueue stops the background drain worker, waiting for it to exit.
func (s *Store) StopQueue() {
	s.queue.Stop()
}
