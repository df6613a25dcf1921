// Package recovery defines the vocabulary shared between input
// coordinators and the recovery change log: flow keys, epochs, opaque
// state snapshots and keyed change records.
package recovery

import (
	"errors"
	"fmt"
)

// StepID identifies a step in a dataflow. It must be stable across
// restarts because it is part of every FlowKey written to the change log.
type StepID string

// WorkerIndex is this worker's ordinal within an execution.
type WorkerIndex int

// WorkerCount is the total number of workers in an execution.
type WorkerCount int

// ErrInvalidWorker indicates an impossible worker identity.
var ErrInvalidWorker = errors.New("invalid worker identity")

// ValidateWorker checks that index is in [0, count) and count is positive.
func ValidateWorker(index WorkerIndex, count WorkerCount) error {
	if count < 1 {
		return fmt.Errorf("%w: worker count %d", ErrInvalidWorker, count)
	}
	if index < 0 || int(index) >= int(count) {
		return fmt.Errorf("%w: worker index %d of %d", ErrInvalidWorker, index, count)
	}
	return nil
}

// StateKey identifies one state partition within a step. Inputs that
// keep several independent cursors (partitions, shards) use one key per
// cursor.
type StateKey string

// WorkerKey returns the state key used by inputs that keep exactly one
// cursor per worker.
func WorkerKey(index WorkerIndex) StateKey {
	return StateKey(fmt.Sprintf("worker:%d", index))
}

// FlowKey is the address of one resumable state stream.
type FlowKey struct {
	Step StepID   `msgpack:"step" json:"step"`
	Key  StateKey `msgpack:"key" json:"key"`
}

// NewFlowKey builds a FlowKey.
func NewFlowKey(step StepID, key StateKey) FlowKey {
	return FlowKey{Step: step, Key: key}
}

// String renders the key as "step/key".
func (k FlowKey) String() string {
	return string(k.Step) + "/" + string(k.Key)
}

// Epoch is the logical timestamp of the dataflow. Epochs only move
// forward.
type Epoch uint64

// ResumeEpoch is the epoch a run starts from. Zero means a fresh run;
// a resumed run starts at the epoch read back from a prior change log.
type ResumeEpoch Epoch

// Epoch returns the resume point as a plain epoch.
func (r ResumeEpoch) Epoch() Epoch {
	return Epoch(r)
}

// Fresh reports whether this is the start of a brand new run.
func (r ResumeEpoch) Fresh() bool {
	return r == 0
}

// ChangeKind tags the variants of Change.
type ChangeKind uint8

const (
	// KindUpsert means the state exists and has a value.
	KindUpsert ChangeKind = iota + 1
	// KindDiscard means the state is gone.
	KindDiscard
)

// String returns the kind name.
func (k ChangeKind) String() string {
	switch k {
	case KindUpsert:
		return "upsert"
	case KindDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Change is a state transition for one FlowKey.
// Build values with Upsert or Discard.
type Change struct {
	Kind  ChangeKind `msgpack:"kind" json:"kind"`
	State StateBytes `msgpack:"state,omitempty" json:"state,omitempty"`
}

// Upsert returns a change that sets the state to b.
func Upsert(b StateBytes) Change {
	return Change{Kind: KindUpsert, State: b}
}

// Discard returns a change that removes the state.
func Discard() Change {
	return Change{Kind: KindDiscard}
}

// IsUpsert reports whether the change carries a state value.
func (c Change) IsUpsert() bool {
	return c.Kind == KindUpsert
}

// KChange is one entry of the recovery change log.
type KChange struct {
	Key    FlowKey `msgpack:"key" json:"key"`
	Change Change  `msgpack:"change" json:"change"`
}
