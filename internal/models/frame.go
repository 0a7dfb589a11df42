package models

import (
	"fmt"
	"time"
)

// Direction is the side of the HCI transport a frame travelled on.
type Direction uint8

const (
	// Sent frames go from the host to the controller.
	Sent Direction = iota
	// Received frames go from the controller to the host.
	Received
)

func (d Direction) String() string {
	if d == Received {
		return "received"
	}
	return "sent"
}

// MarshalText renders the direction as "sent" or "received".
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the strings produced by MarshalText.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "sent":
		*d = Sent
	case "received":
		*d = Received
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Sent {
		return Received
	}
	return Sent
}

// Kind classifies an HCI frame by its H4 packet type.
type Kind string

const (
	KindCommand Kind = "command"
	KindACL     Kind = "acl"
	KindSCO     Kind = "sco"
	KindEvent   Kind = "event"
	KindISO     Kind = "iso"
	KindUnknown Kind = "unknown"
)

// Frame holds one record read from a btsnoop capture.
type Frame struct {
	Number         int // 1-based position in the capture
	Timestamp      time.Time
	Direction      Direction
	Kind           Kind
	OriginalLength int
	IncludedLength int
	Drops          uint32 // cumulative, as written by the capturing stack

	// Data is the HCI packet in H4 form: packet type byte first.
	Data []byte
}

// Truncated reports whether the capture cut the packet short.
func (f Frame) Truncated() bool {
	return f.IncludedLength < f.OriginalLength
}

// Payload is an upper-layer byte stream chunk carried by a frame,
// such as an ATT attribute value or RFCOMM user data.
type Payload struct {
	Frame     int
	Direction Direction
	Channel   string // "att" or "rfcomm"
	Data      []byte
}
