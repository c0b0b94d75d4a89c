package kvcache

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/nobletooth/govcache/pkg/utils"
)

// ErrMissingUndoFunc is returned when an op log holds ops of a prefix that has no reverse function registered.
var ErrMissingUndoFunc = errors.New("no undo func registered for prefix")

// Prior is the state of a key right before a write: its encoded value, or Existed=false if it was absent.
type Prior struct {
	Value   []byte
	Existed bool
}

// Op is one undo-log record.
type Op struct {
	Prefix storage.Prefix
	Key    []byte
	Prior  Prior
}

// UndoFunc restores `key` of one prefix to `prior`.
type UndoFunc func(key []byte, prior Prior) error

// OpLog collects the ops of one unit of work (e.g. a transaction) in write order.
type OpLog struct {
	ops []Op
}

// NewOpLog returns an empty op log.
func NewOpLog() *OpLog {
	return &OpLog{}
}

// Record appends an op.
func (l *OpLog) Record(op Op) {
	l.ops = append(l.ops, op)
}

// Ops returns the recorded ops in write order.
func (l *OpLog) Ops() []Op {
	return slices.Clone(l.ops)
}

// Len returns the number of recorded ops.
func (l *OpLog) Len() int {
	return len(l.ops)
}

// Prefixes returns the distinct prefixes of the recorded ops, in first-seen order.
func (l *OpLog) Prefixes() []storage.Prefix {
	seen := make(map[storage.Prefix]struct{})
	var prefixes []storage.Prefix
	for _, op := range l.ops {
		if _, ok := seen[op.Prefix]; !ok {
			seen[op.Prefix] = struct{}{}
			prefixes = append(prefixes, op.Prefix)
		}
	}
	return prefixes
}

// Reset drops all recorded ops.
func (l *OpLog) Reset() {
	l.ops = nil
}

// UndoRegistry maps prefixes to the functions that reverse their ops.
type UndoRegistry struct {
	funcs map[storage.Prefix]UndoFunc
}

// NewUndoRegistry returns a registry with no undo funcs.
func NewUndoRegistry() *UndoRegistry {
	return &UndoRegistry{funcs: make(map[storage.Prefix]UndoFunc)}
}

// Register installs the reverse function of `prefix`. Registering a prefix again replaces the previous function, so
// the most recently registered cache layer is the one ops get reversed into.
func (r *UndoRegistry) Register(prefix storage.Prefix, fn UndoFunc) {
	if fn == nil {
		utils.RaiseInvariant("kvcache", "nil_undo_func", "Registering a nil undo func.", "prefix", prefix)
		return
	}
	r.funcs[prefix] = fn
}

// Has reports whether `prefix` has a reverse function.
func (r *UndoRegistry) Has(prefix storage.Prefix) bool {
	_, ok := r.funcs[prefix]
	return ok
}

// Verify checks that every given prefix has a reverse function.
func (r *UndoRegistry) Verify(prefixes ...storage.Prefix) error {
	var errs error
	for _, prefix := range prefixes {
		if !r.Has(prefix) {
			errs = errors.Join(errs, fmt.Errorf("%w: %s", ErrMissingUndoFunc, prefix))
		}
	}
	return errs
}

// Rollback reverses the ops of `log`, newest first, and resets it. Nothing is applied unless every prefix in the log
// has a reverse function. On a failing reverse function the remaining ops are not applied and the log is kept.
func (r *UndoRegistry) Rollback(log *OpLog) error {
	if err := r.Verify(log.Prefixes()...); err != nil {
		return fmt.Errorf("refusing to roll back: %w", err)
	}
	for i := len(log.ops) - 1; i >= 0; i-- {
		op := log.ops[i]
		if err := r.funcs[op.Prefix](op.Key, op.Prior); err != nil {
			return fmt.Errorf("failed to undo op %d on %s%x: %w", i, op.Prefix, op.Key, err)
		}
	}
	log.Reset()
	return nil
}
