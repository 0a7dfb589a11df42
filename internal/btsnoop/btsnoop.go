// Package btsnoop reads and writes the btsnoop capture format used by the
// Android Bluetooth stack for HCI snoop logs.
package btsnoop

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBadMagic            = errors.New("btsnoop: bad file magic")
	ErrUnsupportedVersion  = errors.New("btsnoop: unsupported version")
	ErrUnsupportedDatalink = errors.New("btsnoop: unsupported datalink")
)

var magic = [8]byte{'b', 't', 's', 'n', 'o', 'o', 'p', 0}

const (
	headerLen = 16
	recordLen = 24
	version   = 1

	// epochDelta is the number of microseconds between 0000-01-01 and
	// the Unix epoch, the offset btsnoop timestamps are stored with.
	epochDelta int64 = 0x00dcddb30f2f8000
)

// Datalink identifies how HCI packets are framed inside records.
type Datalink uint32

const (
	DatalinkH1      Datalink = 1001
	DatalinkH4      Datalink = 1002
	DatalinkBCSP    Datalink = 1003
	DatalinkH5      Datalink = 1004
	DatalinkMonitor Datalink = 2001
)

func (d Datalink) String() string {
	switch d {
	case DatalinkH1:
		return "H1"
	case DatalinkH4:
		return "H4"
	case DatalinkBCSP:
		return "BCSP"
	case DatalinkH5:
		return "H5"
	case DatalinkMonitor:
		return "monitor"
	}
	return fmt.Sprintf("datalink(%d)", uint32(d))
}

// Flags is the per-record flag word.
type Flags uint32

const (
	// FlagReceived marks controller-to-host traffic. Unset means sent.
	FlagReceived Flags = 1 << 0
	// FlagCommand marks commands and events, as opposed to data.
	FlagCommand Flags = 1 << 1
)

func (f Flags) Received() bool { return f&FlagReceived != 0 }
func (f Flags) Command() bool  { return f&FlagCommand != 0 }

// Header is the file header that precedes all records.
type Header struct {
	Version  uint32
	Datalink Datalink
}

// Record is one captured packet.
type Record struct {
	OriginalLength uint32
	Flags          Flags
	Drops          uint32
	Timestamp      time.Time
	Data           []byte
}

func toTimestamp(us int64) time.Time {
	return time.UnixMicro(us - epochDelta).UTC()
}

func fromTimestamp(t time.Time) int64 {
	return t.UnixMicro() + epochDelta
}
