package hci

import (
	"encoding/binary"

	"gosnoop/internal/models"
)

// Protocol/service multiplexer values the dissector follows.
const (
	PSMRFCOMM uint16 = 0x0003
	PSMATT    uint16 = 0x001f
)

// L2CAP signaling command codes used for channel tracking.
const (
	sigConnectionRequest  uint8 = 0x02
	sigConnectionResponse uint8 = 0x03
	sigDisconnectRequest  uint8 = 0x06
)

type linkKey struct {
	handle uint16
	dir    models.Direction
}

type channelKey struct {
	handle uint16
	dir    models.Direction
	cid    uint16
}

type pendingKey struct {
	handle uint16
	scid   uint16
}

type pendingConn struct {
	psm uint16
	dir models.Direction
}

type fragment struct {
	buf  []byte
	want int // -1 until the L2CAP length field has arrived
}

// Assembler reassembles ACL fragments into L2CAP PDUs and follows the
// signaling channel to learn which PSM each dynamic channel belongs to.
// Links are keyed by connection handle and direction.
type Assembler struct {
	partial  map[linkKey]*fragment
	channels map[channelKey]uint16
	pending  map[pendingKey]pendingConn
}

func NewAssembler() *Assembler {
	return &Assembler{
		partial:  make(map[linkKey]*fragment),
		channels: make(map[channelKey]uint16),
		pending:  make(map[pendingKey]pendingConn),
	}
}

// Push adds one ACL packet payload. It returns a complete L2CAP PDU once
// all fragments have been seen. Continuations without a start are dropped.
func (a *Assembler) Push(dir models.Direction, acl *HCIACL) ([]byte, bool) {
	key := linkKey{handle: acl.Handle, dir: dir}

	var frag *fragment
	if acl.Start() {
		frag = &fragment{want: -1}
		a.partial[key] = frag
	} else {
		frag = a.partial[key]
		if frag == nil {
			return nil, false
		}
	}
	frag.buf = append(frag.buf, acl.Payload...)

	if frag.want < 0 && len(frag.buf) >= 2 {
		frag.want = int(binary.LittleEndian.Uint16(frag.buf[0:2])) + 4
	}
	if frag.want < 0 || len(frag.buf) < frag.want {
		return nil, false
	}

	delete(a.partial, key)
	return frag.buf[:frag.want], true
}

// PSM returns the PSM a dynamic channel was opened for, or 0 if unknown.
// ATT on the LE fixed channel is reported as PSMATT.
func (a *Assembler) PSM(handle uint16, dir models.Direction, cid uint16) uint16 {
	if cid == CIDATT {
		return PSMATT
	}
	return a.channels[channelKey{handle: handle, dir: dir, cid: cid}]
}

// Signal processes the payload of a BR/EDR signaling PDU. Connection
// requests are remembered until their response assigns channel ids.
func (a *Assembler) Signal(handle uint16, dir models.Direction, data []byte) {
	for len(data) >= 4 {
		code := data[0]
		n := int(binary.LittleEndian.Uint16(data[2:4]))
		if len(data) < 4+n {
			return
		}
		body := data[4 : 4+n]
		data = data[4+n:]

		switch code {
		case sigConnectionRequest:
			if len(body) < 4 {
				continue
			}
			psm := binary.LittleEndian.Uint16(body[0:2])
			scid := binary.LittleEndian.Uint16(body[2:4])
			a.pending[pendingKey{handle: handle, scid: scid}] = pendingConn{psm: psm, dir: dir}

		case sigConnectionResponse:
			if len(body) < 6 {
				continue
			}
			dcid := binary.LittleEndian.Uint16(body[0:2])
			scid := binary.LittleEndian.Uint16(body[2:4])
			result := binary.LittleEndian.Uint16(body[4:6])
			pk := pendingKey{handle: handle, scid: scid}
			req, ok := a.pending[pk]
			if !ok || result == 0x0001 {
				// 0x0001 is "pending"; a final response follows.
				continue
			}
			delete(a.pending, pk)
			if result != 0x0000 {
				continue
			}
			// The requester addresses the responder's channel and vice versa.
			a.channels[channelKey{handle: handle, dir: req.dir, cid: dcid}] = req.psm
			a.channels[channelKey{handle: handle, dir: req.dir.Opposite(), cid: scid}] = req.psm

		case sigDisconnectRequest:
			if len(body) < 4 {
				continue
			}
			dcid := binary.LittleEndian.Uint16(body[0:2])
			scid := binary.LittleEndian.Uint16(body[2:4])
			delete(a.channels, channelKey{handle: handle, dir: dir, cid: dcid})
			delete(a.channels, channelKey{handle: handle, dir: dir.Opposite(), cid: scid})
		}
	}
}
