package changelog

import (
	"encoding/binary"
	"fmt"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
	"github.com/vmihailenco/msgpack/v5"
)

// EntryVersion is the current envelope version.
const EntryVersion = 1

// Entry is the stored form of a change.
type Entry struct {
	Version int                 `msgpack:"v"`
	Kind    recovery.ChangeKind `msgpack:"k"`
	State   recovery.StateBytes `msgpack:"s,omitempty"`
}

// EncodeChange wraps a change in the current envelope.
func EncodeChange(c recovery.Change) ([]byte, error) {
	b, err := msgpack.Marshal(Entry{Version: EntryVersion, Kind: c.Kind, State: c.State})
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return b, nil
}

// DecodeChange unwraps a stored envelope.
func DecodeChange(b []byte) (recovery.Change, error) {
	var e Entry
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return recovery.Change{}, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if e.Version != EntryVersion {
		return recovery.Change{}, fmt.Errorf("%w: version %d", ErrCorruptEntry, e.Version)
	}
	switch e.Kind {
	case recovery.KindUpsert:
		return recovery.Upsert(e.State), nil
	case recovery.KindDiscard:
		return recovery.Discard(), nil
	}
	return recovery.Change{}, fmt.Errorf("%w: kind %d", ErrCorruptEntry, e.Kind)
}

// Ordered binary keys for the key-value backend. Entries of one flow key
// are contiguous and sorted by epoch.
const (
	changePrefix   byte = 'c'
	progressPrefix byte = 'p'
)

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func flowKeyPrefix(key recovery.FlowKey) []byte {
	b := make([]byte, 0, 1+4+len(key.Step)+len(key.Key)+8)
	b = append(b, changePrefix)
	b = appendString(b, string(key.Step))
	return appendString(b, string(key.Key))
}

func changeKey(key recovery.FlowKey, epoch recovery.Epoch) []byte {
	return binary.BigEndian.AppendUint64(flowKeyPrefix(key), uint64(epoch))
}

func decodeChangeKey(b []byte) (recovery.FlowKey, recovery.Epoch, error) {
	bad := fmt.Errorf("%w: key %x", ErrCorruptEntry, b)
	if len(b) < 1 || b[0] != changePrefix {
		return recovery.FlowKey{}, 0, bad
	}
	rest := b[1:]
	readString := func() (string, bool) {
		if len(rest) < 2 {
			return "", false
		}
		n := int(binary.BigEndian.Uint16(rest))
		if len(rest) < 2+n {
			return "", false
		}
		s := string(rest[2 : 2+n])
		rest = rest[2+n:]
		return s, true
	}
	step, ok := readString()
	if !ok {
		return recovery.FlowKey{}, 0, bad
	}
	stateKey, ok := readString()
	if !ok || len(rest) != 8 {
		return recovery.FlowKey{}, 0, bad
	}
	epoch := recovery.Epoch(binary.BigEndian.Uint64(rest))
	return recovery.NewFlowKey(recovery.StepID(step), recovery.StateKey(stateKey)), epoch, nil
}

func progressKey(w recovery.WorkerIndex) []byte {
	return binary.BigEndian.AppendUint32([]byte{progressPrefix}, uint32(w))
}

func validateKey(key recovery.FlowKey) error {
	if len(key.Step) > 0xffff || len(key.Key) > 0xffff {
		return fmt.Errorf("flow key %s too long", key)
	}
	return nil
}
