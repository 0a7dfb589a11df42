// Package fixture builds HCI captures and device archives for tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gosnoop/internal/btsnoop"

	"github.com/klauspost/compress/zip"
)

// SnoopPath is where Android bug reports keep the HCI snoop log.
const SnoopPath = "FS/data/misc/bluetooth/logs/btsnoop_hci.log"

// Base is the timestamp of the first record in generated captures.
var Base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Command builds an H4 HCI command.
func Command(opcode uint16, params []byte) []byte {
	b := []byte{0x01}
	b = binary.LittleEndian.AppendUint16(b, opcode)
	b = append(b, byte(len(params)))
	return append(b, params...)
}

// Event builds an H4 HCI event.
func Event(code uint8, params []byte) []byte {
	b := []byte{0x04, code, byte(len(params))}
	return append(b, params...)
}

// ACL builds an H4 ACL packet with the given boundary flag.
func ACL(handle uint16, pb uint8, payload []byte) []byte {
	b := []byte{0x02}
	b = binary.LittleEndian.AppendUint16(b, handle&0x0fff|uint16(pb&0x03)<<12)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	return append(b, payload...)
}

// L2CAP builds a basic L2CAP PDU.
func L2CAP(cid uint16, payload []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, uint16(len(payload)))
	b = binary.LittleEndian.AppendUint16(b, cid)
	return append(b, payload...)
}

// ATT builds an ATT PDU for opcodes that carry a handle.
func ATT(opcode uint8, handle uint16, value []byte) []byte {
	b := []byte{opcode}
	b = binary.LittleEndian.AppendUint16(b, handle)
	return append(b, value...)
}

// Signal builds one L2CAP signaling command.
func Signal(code, id uint8, data []byte) []byte {
	b := []byte{code, id}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...)
}

// ConnReq is an L2CAP connection request body.
func ConnReq(psm, scid uint16) []byte {
	b := binary.LittleEndian.AppendUint16(nil, psm)
	return binary.LittleEndian.AppendUint16(b, scid)
}

// ConnRsp is a successful L2CAP connection response body.
func ConnRsp(dcid, scid uint16) []byte {
	b := binary.LittleEndian.AppendUint16(nil, dcid)
	b = binary.LittleEndian.AppendUint16(b, scid)
	return append(b, 0, 0, 0, 0)
}

// RFCOMMUIH builds a UIH frame on dlci without credits. The FCS is not
// computed; decoders here do not verify it.
func RFCOMMUIH(dlci uint8, data []byte) []byte {
	b := []byte{dlci<<2 | 0x03, 0xef}
	if len(data) < 128 {
		b = append(b, byte(len(data))<<1|1)
	} else {
		b = append(b, byte(len(data))<<1, byte(len(data)>>7))
	}
	b = append(b, data...)
	return append(b, 0x00)
}

// HT builds a radio protocol frame with the given type and body.
func HT(typeHi, typeLo byte, body []byte) []byte {
	b := []byte{0xff, 0x01, 0x00, byte(len(body)), 0x00, 0x02, typeHi, typeLo}
	return append(b, body...)
}

// Packet is one capture entry.
type Packet struct {
	Received bool
	Data     []byte // H4 framed
	Drops    uint32
}

// Capture encodes packets as an H4 btsnoop file, 1ms apart from Base.
func Capture(t testing.TB, pkts ...Packet) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := btsnoop.NewWriter(&buf, btsnoop.DatalinkH4)
	if err != nil {
		t.Fatalf("btsnoop header: %v", err)
	}
	for i, p := range pkts {
		var flags btsnoop.Flags
		if p.Received {
			flags |= btsnoop.FlagReceived
		}
		if len(p.Data) > 0 && (p.Data[0] == 0x01 || p.Data[0] == 0x04) {
			flags |= btsnoop.FlagCommand
		}
		rec := btsnoop.Record{
			Flags:     flags,
			Drops:     p.Drops,
			Timestamp: Base.Add(time.Duration(i) * time.Millisecond),
			Data:      p.Data,
		}
		if err := w.WriteRecord(rec); err != nil {
			t.Fatalf("btsnoop record %d: %v", i, err)
		}
	}
	return buf.Bytes()
}

// Session is a short radio session: a reset, the ATT write of a channel
// info request and the notification carrying its response.
func Session(t testing.TB) []byte {
	t.Helper()

	req := HT(0x00, 0x0d, []byte{0x03})
	rsp := HT(0x80, 0x0d, []byte{0x00, 0x03, 'C', 'H', '3'})

	return Capture(t,
		Packet{Data: Command(0x0c03, nil)},
		Packet{Received: true, Data: Event(0x0e, []byte{0x01, 0x03, 0x0c, 0x00})},
		Packet{Data: ACL(0x0040, 0x00, L2CAP(0x0004, ATT(0x52, 0x0010, req)))},
		Packet{Received: true, Data: ACL(0x0040, 0x02, L2CAP(0x0004, ATT(0x1b, 0x0012, rsp)))},
	)
}

// Zip writes an archive with the given entries and returns its path.
func Zip(t testing.TB, path string, entries map[string][]byte) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return path
}
