// Copyright 2025 Certnode Project
//
// Package validators implements the Proof-of-Authority roster: ordered
// turn-taking, admission by vouch, and per-validator performance windows.
package validators

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/certnode/factledger/pkg/apperr"
	"github.com/certnode/factledger/pkg/crypto"
)

// Outcome is one entry in a validator's sliding performance window.
type Outcome struct {
	Success   bool
	ElapsedUs int64
	At        time.Time
}

// Validator is a single roster member.
type Validator struct {
	ID        string
	PublicKey *crypto.PublicKey
}

// Stats is the derived per-validator performance snapshot returned by
// GetPerformanceMetrics.
type Stats struct {
	TotalTransactions      int
	SuccessfulTransactions int
	FailureRate            float64
	AvgTxTimeUs            float64
	LastActive             time.Time
}

type perfWindow struct {
	window []Outcome // ring-like: oldest at index 0
	cap    int
}

func newPerfWindow(cap int) *perfWindow {
	if cap <= 0 {
		cap = 100
	}
	return &perfWindow{cap: cap}
}

func (w *perfWindow) push(o Outcome) {
	w.window = append(w.window, o)
	if len(w.window) > w.cap {
		w.window = w.window[len(w.window)-w.cap:]
	}
}

func (w *perfWindow) stats() Stats {
	var s Stats
	if len(w.window) == 0 {
		return s
	}
	var sumUs int64
	for _, o := range w.window {
		s.TotalTransactions++
		if o.Success {
			s.SuccessfulTransactions++
		}
		sumUs += o.ElapsedUs
		if o.At.After(s.LastActive) {
			s.LastActive = o.At
		}
	}
	s.FailureRate = 1 - float64(s.SuccessfulTransactions)/float64(s.TotalTransactions)
	s.AvgTxTimeUs = float64(sumUs) / float64(s.TotalTransactions)
	return s
}

// Roster holds the active validator set and each validator's performance
// window. Turn-taking has no state of its own here: whose turn it is is a
// pure function of the roster order and the caller-supplied tx_count
// (owned by pkg/chain), so resizing the roster can never desynchronise
// two independent counters. All mutation is serialised by mu, per spec §5.
type Roster struct {
	mu            sync.Mutex
	order         []string // roster order, defines turn-taking
	byID          map[string]*Validator
	perf          map[string]*perfWindow
	windowSize    int
	validatorsDir string
}

// Config controls roster construction.
type Config struct {
	// ValidatorsDir is the directory of "<id>.pub" files read at boot
	// (spec §6). AddValidator also writes new entries here.
	ValidatorsDir string
	// PerformanceWindow bounds each validator's sliding outcome window
	// (spec default 100).
	PerformanceWindow int
}

// Load boots a Roster from the sorted list of "<id>.pub" files in
// cfg.ValidatorsDir (spec §6: "Roster on boot is the sorted list of
// rootnames").
func Load(cfg Config) (*Roster, error) {
	entries, err := os.ReadDir(cfg.ValidatorsDir)
	if err != nil {
		return nil, apperr.StorageError("read validators dir", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".pub"))
	}
	sort.Strings(ids)

	r := &Roster{
		byID:          make(map[string]*Validator),
		perf:          make(map[string]*perfWindow),
		windowSize:    cfg.PerformanceWindow,
		validatorsDir: cfg.ValidatorsDir,
	}
	for _, id := range ids {
		raw, err := os.ReadFile(filepath.Join(cfg.ValidatorsDir, id+".pub"))
		if err != nil {
			return nil, apperr.StorageError("read "+id+".pub", err)
		}
		pub, err := crypto.PublicKeyFromHex(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, apperr.StorageError("parse "+id+".pub", err)
		}
		r.order = append(r.order, id)
		r.byID[id] = &Validator{ID: id, PublicKey: pub}
		r.perf[id] = newPerfWindow(cfg.PerformanceWindow)
	}
	return r, nil
}

// NewEmpty creates a roster with no boot-time persistence, used by tests
// that add validators programmatically.
func NewEmpty(windowSize int) *Roster {
	return &Roster{
		byID:       make(map[string]*Validator),
		perf:       make(map[string]*perfWindow),
		windowSize: windowSize,
	}
}

// CurrentValidator resolves whose turn it is for a given tx_count:
// roster[tx_count mod |roster|]. It is a pure lookup — advancing tx_count
// is the caller's responsibility (see pkg/chain), so this can be called
// any number of times without side effects.
func (r *Roster) CurrentValidator(txCount int) (Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return Validator{}, apperr.CannotRemoveLast()
	}
	id := r.order[txCount%len(r.order)]
	return *r.byID[id], nil
}

// Exists reports whether id is in the active roster.
func (r *Roster) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok
}

// Get returns the validator record for id.
func (r *Roster) Get(id string) (Validator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return Validator{}, false
	}
	return *v, true
}

// All returns a snapshot of the roster in turn order.
func (r *Roster) All() []Validator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Validator, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// AddValidator admits a new validator, requiring that voucherID already be
// on the roster. The first member of an empty roster is admitted by
// vouching for itself (voucherID == id). Idempotent: adding an id already
// present returns AlreadyExists rather than erroring destructively.
func (r *Roster) AddValidator(id string, pub *crypto.PublicKey, voucherID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return apperr.AlreadyExists(id)
	}
	if _, ok := r.byID[voucherID]; !ok && !(len(r.order) == 0 && voucherID == id) {
		return apperr.UnknownValidator(voucherID)
	}

	r.order = append(r.order, id)
	r.byID[id] = &Validator{ID: id, PublicKey: pub}
	r.perf[id] = newPerfWindow(r.windowSize)

	if r.validatorsDir != "" {
		if err := os.MkdirAll(r.validatorsDir, 0o755); err != nil {
			return apperr.StorageError("create validators dir", err)
		}
		path := filepath.Join(r.validatorsDir, id+".pub")
		if err := os.WriteFile(path, []byte(pub.HexString()), 0o644); err != nil {
			return apperr.StorageError("write "+id+".pub", err)
		}
	}
	return nil
}

// RemoveValidator removes id from the roster, refusing to empty it. There
// is no turn index to rebase: the next turn is roster[tx_count mod
// |roster|] over the shortened roster.
func (r *Roster) RemoveValidator(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) <= 1 {
		return apperr.CannotRemoveLast()
	}
	idx := -1
	for i, v := range r.order {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperr.UnknownValidator(id)
	}

	r.order = append(r.order[:idx], r.order[idx+1:]...)
	delete(r.byID, id)
	delete(r.perf, id)

	return nil
}

// RecordTransactionPerformance pushes an outcome into id's sliding window.
func (r *Roster) RecordTransactionPerformance(id string, success bool, elapsedUs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.perf[id]
	if !ok {
		return
	}
	w.push(Outcome{Success: success, ElapsedUs: elapsedUs, At: time.Now()})
}

// GetPerformanceMetrics snapshots every validator's derived stats.
func (r *Roster) GetPerformanceMetrics() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.perf))
	for id, w := range r.perf {
		out[id] = w.stats()
	}
	return out
}
