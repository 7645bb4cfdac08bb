// Package hlc implements hybrid logical clocks: identifiers that combine a
// physical wall-clock reading, a logical counter, and a node id into a
// deterministic total order across independently-clocked producers, without
// any coordination between them.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
)

// HLC is a single hybrid logical clock reading. WallTimeMillis dominates the
// ordering so identifiers stay close to wall-clock order; Counter resolves
// bursts within one millisecond; NodeID is a deterministic tie-break between
// producers.
type HLC struct {
	WallTimeMillis int64
	Counter        uint32
	NodeID         string
}

// MalformedIdentifierError is returned by Parse when the input is not a
// canonical "time:counter:node" identifier.
type MalformedIdentifierError struct {
	Input  string
	Reason string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed identifier %q: %s", e.Input, e.Reason)
}

// Compare orders two readings: wall time first, then counter, then node id
// lexicographically. The result is -1, 0 or 1 and forms a strict total
// order; two readings compare equal only when all three fields are equal.
func Compare(a, b HLC) int {
	if a.WallTimeMillis != b.WallTimeMillis {
		if a.WallTimeMillis < b.WallTimeMillis {
			return -1
		}
		return 1
	}
	if a.Counter != b.Counter {
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	}
	return strings.Compare(a.NodeID, b.NodeID)
}

// Less reports whether a orders strictly before b.
func Less(a, b HLC) bool {
	return Compare(a, b) < 0
}

// IsZero reports whether h is the zero reading, which is never issued by a
// Generator and can stand in for "no identifier assigned yet".
func (h HLC) IsZero() bool {
	return h == HLC{}
}

// String renders the canonical "time:counter:node" form.
func (h HLC) String() string {
	return strconv.FormatInt(h.WallTimeMillis, 10) + ":" +
		strconv.FormatUint(uint64(h.Counter), 10) + ":" +
		h.NodeID
}

// Parse decodes a canonical "time:counter:node" identifier. The node id may
// itself contain colons; only the first two separators are structural. Any
// other shape fails with a MalformedIdentifierError.
func Parse(s string) (HLC, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return HLC{}, &MalformedIdentifierError{Input: s, Reason: "expected time:counter:node"}
	}
	wall, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return HLC{}, &MalformedIdentifierError{Input: s, Reason: "invalid wall time"}
	}
	counter, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return HLC{}, &MalformedIdentifierError{Input: s, Reason: "invalid counter"}
	}
	if parts[2] == "" {
		return HLC{}, &MalformedIdentifierError{Input: s, Reason: "empty node id"}
	}
	return HLC{
		WallTimeMillis: wall,
		Counter:        uint32(counter),
		NodeID:         parts[2],
	}, nil
}

// MarshalText implements encoding.TextMarshaler using the canonical form, so
// identifiers embed in JSON as plain strings.
func (h HLC) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HLC) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
