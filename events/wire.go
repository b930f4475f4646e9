package events

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical CBOR encoding for deterministic event bytes: the journal
// stores what the relay transmits, byte for byte.
var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	// Full-precision timestamps; the default unix mode truncates to seconds.
	opts.Time = cbor.TimeRFC3339Nano
	opts.TimeTag = cbor.EncTagRequired
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("events: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes an Event to canonical CBOR bytes.
func Marshal(e Event) ([]byte, error) {
	return cborEncMode.Marshal(e)
}

// Unmarshal deserializes an Event from CBOR bytes.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("events: unmarshal event: %w", err)
	}
	return e, nil
}
