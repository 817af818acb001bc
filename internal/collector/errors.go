package collector

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// UnitError is the base type for failures of a single collection unit.
type UnitError struct {
	Block uint64
	Pool  common.Address
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("block %d pool %s: %v", e.Block, e.Pool.Hex(), e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// SnapshotError indicates the pool state could not be read.
type SnapshotError struct {
	UnitError
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("block %d: failed to fetch snapshot for pool %s: %v", e.Block, e.Pool.Hex(), e.Err)
}

// MathError indicates the snapshot could not be priced at all.
type MathError struct {
	UnitError
}

func (e *MathError) Error() string {
	return fmt.Sprintf("block %d: failed to price pool %s: %v", e.Block, e.Pool.Hex(), e.Err)
}

// PersistError indicates the record could not be written.
type PersistError struct {
	UnitError
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("block %d: failed to persist pool %s: %v", e.Block, e.Pool.Hex(), e.Err)
}

// JoinError indicates the unit did not run to completion: it panicked,
// exceeded its deadline, or was cancelled before it started.
type JoinError struct {
	UnitError
	Panic interface{}
}

func (e *JoinError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("block %d: unit for pool %s panicked: %v", e.Block, e.Pool.Hex(), e.Panic)
	}
	return fmt.Sprintf("block %d: unit for pool %s did not complete: %v", e.Block, e.Pool.Hex(), e.Err)
}

// OutcomeKind classifies how a unit ended.
type OutcomeKind string

const (
	KindSuccess  OutcomeKind = "success"
	KindSnapshot OutcomeKind = "snapshot"
	KindMath     OutcomeKind = "math"
	KindPersist  OutcomeKind = "persist"
	KindJoin     OutcomeKind = "join"
	KindUnknown  OutcomeKind = "unknown"
)

// Classify maps a unit error to its kind.
func Classify(err error) OutcomeKind {
	if err == nil {
		return KindSuccess
	}
	var snapshotErr *SnapshotError
	var mathErr *MathError
	var persistErr *PersistError
	var joinErr *JoinError
	switch {
	case errors.As(err, &joinErr):
		return KindJoin
	case errors.As(err, &snapshotErr):
		return KindSnapshot
	case errors.As(err, &mathErr):
		return KindMath
	case errors.As(err, &persistErr):
		return KindPersist
	default:
		return KindUnknown
	}
}
