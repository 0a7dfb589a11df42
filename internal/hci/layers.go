// Package hci decodes Bluetooth HCI traffic as gopacket layers and
// dissects btsnoop captures into JSON records.
package hci

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PacketType is the H4 packet indicator.
type PacketType uint8

const (
	TypeCommand PacketType = 0x01
	TypeACL     PacketType = 0x02
	TypeSCO     PacketType = 0x03
	TypeEvent   PacketType = 0x04
	TypeISO     PacketType = 0x05
)

var (
	LayerTypeH4         gopacket.LayerType
	LayerTypeHCICommand gopacket.LayerType
	LayerTypeHCIEvent   gopacket.LayerType
	LayerTypeHCIACL     gopacket.LayerType
	LayerTypeHCISCO     gopacket.LayerType
	LayerTypeHCIISO     gopacket.LayerType
	LayerTypeL2CAP      gopacket.LayerType
	LayerTypeATT        gopacket.LayerType
	LayerTypeRFCOMM     gopacket.LayerType
)

func init() {
	LayerTypeH4 = gopacket.RegisterLayerType(2101, gopacket.LayerTypeMetadata{Name: "H4", Decoder: gopacket.DecodeFunc(decodeH4)})
	LayerTypeHCICommand = gopacket.RegisterLayerType(2102, gopacket.LayerTypeMetadata{Name: "HCICommand", Decoder: gopacket.DecodeFunc(decodeHCICommand)})
	LayerTypeHCIEvent = gopacket.RegisterLayerType(2103, gopacket.LayerTypeMetadata{Name: "HCIEvent", Decoder: gopacket.DecodeFunc(decodeHCIEvent)})
	LayerTypeHCIACL = gopacket.RegisterLayerType(2104, gopacket.LayerTypeMetadata{Name: "HCIACL", Decoder: gopacket.DecodeFunc(decodeHCIACL)})
	LayerTypeHCISCO = gopacket.RegisterLayerType(2105, gopacket.LayerTypeMetadata{Name: "HCISCO", Decoder: gopacket.DecodeFunc(decodeHCISCO)})
	LayerTypeHCIISO = gopacket.RegisterLayerType(2106, gopacket.LayerTypeMetadata{Name: "HCIISO", Decoder: gopacket.DecodeFunc(decodeHCIISO)})
	LayerTypeL2CAP = gopacket.RegisterLayerType(2107, gopacket.LayerTypeMetadata{Name: "L2CAP", Decoder: gopacket.DecodeFunc(decodeL2CAP)})
	LayerTypeATT = gopacket.RegisterLayerType(2108, gopacket.LayerTypeMetadata{Name: "ATT", Decoder: gopacket.DecodeFunc(decodeATT)})
	LayerTypeRFCOMM = gopacket.RegisterLayerType(2109, gopacket.LayerTypeMetadata{Name: "RFCOMM", Decoder: gopacket.DecodeFunc(decodeRFCOMM)})
}

func errTooShort(layer string, need, have int) error {
	return fmt.Errorf("%s: need %d bytes, have %d", layer, need, have)
}

// decodeNext hands the payload to the next decoder, stopping quietly when
// there is nothing left to decode.
func decodeNext(p gopacket.PacketBuilder, next gopacket.LayerType, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	return p.NextDecoder(next)
}

// H4 is the one-byte UART transport header.
type H4 struct {
	layers.BaseLayer
	Type PacketType
}

func (h *H4) LayerType() gopacket.LayerType { return LayerTypeH4 }

func (h *H4) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 1 {
		df.SetTruncated()
		return errTooShort("H4", 1, len(data))
	}
	h.Type = PacketType(data[0])
	h.BaseLayer = layers.BaseLayer{Contents: data[:1], Payload: data[1:]}
	return nil
}

func (h *H4) NextLayerType() gopacket.LayerType {
	switch h.Type {
	case TypeCommand:
		return LayerTypeHCICommand
	case TypeACL:
		return LayerTypeHCIACL
	case TypeSCO:
		return LayerTypeHCISCO
	case TypeEvent:
		return LayerTypeHCIEvent
	case TypeISO:
		return LayerTypeHCIISO
	}
	return gopacket.LayerTypePayload
}

func decodeH4(data []byte, p gopacket.PacketBuilder) error {
	h := &H4{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return decodeNext(p, h.NextLayerType(), h.Payload)
}

// HCICommand is a host-to-controller command.
type HCICommand struct {
	layers.BaseLayer
	Opcode      uint16
	ParamLength uint8
}

// OGF is the opcode group field.
func (c *HCICommand) OGF() uint8 { return uint8(c.Opcode >> 10) }

// OCF is the opcode command field.
func (c *HCICommand) OCF() uint16 { return c.Opcode & 0x03ff }

func (c *HCICommand) LayerType() gopacket.LayerType { return LayerTypeHCICommand }

func (c *HCICommand) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 3 {
		df.SetTruncated()
		return errTooShort("HCICommand", 3, len(data))
	}
	c.Opcode = binary.LittleEndian.Uint16(data[0:2])
	c.ParamLength = data[2]
	params := data[3:]
	if int(c.ParamLength) < len(params) {
		params = params[:c.ParamLength]
	} else if int(c.ParamLength) > len(params) {
		df.SetTruncated()
	}
	c.BaseLayer = layers.BaseLayer{Contents: data[:3], Payload: params}
	return nil
}

func decodeHCICommand(data []byte, p gopacket.PacketBuilder) error {
	c := &HCICommand{}
	if err := c.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(c)
	return decodeNext(p, gopacket.LayerTypePayload, c.Payload)
}

// HCIEvent is a controller-to-host event.
type HCIEvent struct {
	layers.BaseLayer
	Code        uint8
	ParamLength uint8
}

func (e *HCIEvent) LayerType() gopacket.LayerType { return LayerTypeHCIEvent }

func (e *HCIEvent) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 2 {
		df.SetTruncated()
		return errTooShort("HCIEvent", 2, len(data))
	}
	e.Code = data[0]
	e.ParamLength = data[1]
	params := data[2:]
	if int(e.ParamLength) < len(params) {
		params = params[:e.ParamLength]
	} else if int(e.ParamLength) > len(params) {
		df.SetTruncated()
	}
	e.BaseLayer = layers.BaseLayer{Contents: data[:2], Payload: params}
	return nil
}

func decodeHCIEvent(data []byte, p gopacket.PacketBuilder) error {
	e := &HCIEvent{}
	if err := e.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(e)
	return decodeNext(p, gopacket.LayerTypePayload, e.Payload)
}

// ACL packet boundary flags.
const (
	BoundaryFirstNonFlushable uint8 = 0x00
	BoundaryContinuation      uint8 = 0x01
	BoundaryFirstFlushable    uint8 = 0x02
	BoundaryComplete          uint8 = 0x03
)

// HCIACL is an asynchronous data packet. Only first fragments that carry
// a complete L2CAP PDU decode further; everything else is left as payload
// for reassembly.
type HCIACL struct {
	layers.BaseLayer
	Handle    uint16
	Boundary  uint8
	Broadcast uint8
	Length    uint16
}

func (a *HCIACL) LayerType() gopacket.LayerType { return LayerTypeHCIACL }

// Start reports whether the packet begins an L2CAP PDU.
func (a *HCIACL) Start() bool {
	return a.Boundary != BoundaryContinuation
}

func (a *HCIACL) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 {
		df.SetTruncated()
		return errTooShort("HCIACL", 4, len(data))
	}
	hf := binary.LittleEndian.Uint16(data[0:2])
	a.Handle = hf & 0x0fff
	a.Boundary = uint8(hf>>12) & 0x03
	a.Broadcast = uint8(hf>>14) & 0x03
	a.Length = binary.LittleEndian.Uint16(data[2:4])
	payload := data[4:]
	if int(a.Length) < len(payload) {
		payload = payload[:a.Length]
	} else if int(a.Length) > len(payload) {
		df.SetTruncated()
	}
	a.BaseLayer = layers.BaseLayer{Contents: data[:4], Payload: payload}
	return nil
}

func (a *HCIACL) NextLayerType() gopacket.LayerType {
	if a.Start() && len(a.Payload) >= 4 &&
		int(binary.LittleEndian.Uint16(a.Payload[0:2]))+4 == len(a.Payload) {
		return LayerTypeL2CAP
	}
	return gopacket.LayerTypePayload
}

func decodeHCIACL(data []byte, p gopacket.PacketBuilder) error {
	a := &HCIACL{}
	if err := a.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(a)
	return decodeNext(p, a.NextLayerType(), a.Payload)
}

// HCISCO is a synchronous (voice) data packet.
type HCISCO struct {
	layers.BaseLayer
	Handle uint16
	Length uint8
}

func (s *HCISCO) LayerType() gopacket.LayerType { return LayerTypeHCISCO }

func (s *HCISCO) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 3 {
		df.SetTruncated()
		return errTooShort("HCISCO", 3, len(data))
	}
	s.Handle = binary.LittleEndian.Uint16(data[0:2]) & 0x0fff
	s.Length = data[2]
	s.BaseLayer = layers.BaseLayer{Contents: data[:3], Payload: data[3:]}
	return nil
}

func decodeHCISCO(data []byte, p gopacket.PacketBuilder) error {
	s := &HCISCO{}
	if err := s.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(s)
	return decodeNext(p, gopacket.LayerTypePayload, s.Payload)
}

// HCIISO is an isochronous data packet.
type HCIISO struct {
	layers.BaseLayer
	Handle    uint16
	Boundary  uint8
	Timestamp bool
	Length    uint16
}

func (i *HCIISO) LayerType() gopacket.LayerType { return LayerTypeHCIISO }

func (i *HCIISO) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 {
		df.SetTruncated()
		return errTooShort("HCIISO", 4, len(data))
	}
	hf := binary.LittleEndian.Uint16(data[0:2])
	i.Handle = hf & 0x0fff
	i.Boundary = uint8(hf>>12) & 0x03
	i.Timestamp = hf&(1<<14) != 0
	i.Length = binary.LittleEndian.Uint16(data[2:4]) & 0x3fff
	i.BaseLayer = layers.BaseLayer{Contents: data[:4], Payload: data[4:]}
	return nil
}

func decodeHCIISO(data []byte, p gopacket.PacketBuilder) error {
	i := &HCIISO{}
	if err := i.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(i)
	return decodeNext(p, gopacket.LayerTypePayload, i.Payload)
}

// Fixed L2CAP channel identifiers.
const (
	CIDSignaling      uint16 = 0x0001
	CIDConnectionless uint16 = 0x0002
	CIDATT            uint16 = 0x0004
	CIDLESignaling    uint16 = 0x0005
	CIDSMP            uint16 = 0x0006
)

// L2CAP is a basic-mode L2CAP PDU header.
type L2CAP struct {
	layers.BaseLayer
	Length uint16
	CID    uint16
}

func (l *L2CAP) LayerType() gopacket.LayerType { return LayerTypeL2CAP }

func (l *L2CAP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 {
		df.SetTruncated()
		return errTooShort("L2CAP", 4, len(data))
	}
	l.Length = binary.LittleEndian.Uint16(data[0:2])
	l.CID = binary.LittleEndian.Uint16(data[2:4])
	payload := data[4:]
	if int(l.Length) < len(payload) {
		payload = payload[:l.Length]
	} else if int(l.Length) > len(payload) {
		df.SetTruncated()
	}
	l.BaseLayer = layers.BaseLayer{Contents: data[:4], Payload: payload}
	return nil
}

func (l *L2CAP) NextLayerType() gopacket.LayerType {
	if l.CID == CIDATT {
		return LayerTypeATT
	}
	return gopacket.LayerTypePayload
}

func decodeL2CAP(data []byte, p gopacket.PacketBuilder) error {
	l := &L2CAP{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return decodeNext(p, l.NextLayerType(), l.Payload)
}

// ATT opcodes the dissector cares about.
const (
	ATTErrorResponse   uint8 = 0x01
	ATTExchangeMTUReq  uint8 = 0x02
	ATTExchangeMTUResp uint8 = 0x03
	ATTReadReq         uint8 = 0x0a
	ATTReadResp        uint8 = 0x0b
	ATTWriteReq        uint8 = 0x12
	ATTWriteResp       uint8 = 0x13
	ATTNotification    uint8 = 0x1b
	ATTIndication      uint8 = 0x1d
	ATTConfirmation    uint8 = 0x1e
	ATTWriteCmd        uint8 = 0x52
)

var attNames = map[uint8]string{
	ATTErrorResponse:   "error_response",
	ATTExchangeMTUReq:  "exchange_mtu_request",
	ATTExchangeMTUResp: "exchange_mtu_response",
	0x04:               "find_information_request",
	0x05:               "find_information_response",
	0x08:               "read_by_type_request",
	0x09:               "read_by_type_response",
	ATTReadReq:         "read_request",
	ATTReadResp:        "read_response",
	0x10:               "read_by_group_type_request",
	0x11:               "read_by_group_type_response",
	ATTWriteReq:        "write_request",
	ATTWriteResp:       "write_response",
	ATTNotification:    "handle_value_notification",
	ATTIndication:      "handle_value_indication",
	ATTConfirmation:    "handle_value_confirmation",
	ATTWriteCmd:        "write_command",
}

// ATTName returns a readable name for an ATT opcode.
func ATTName(op uint8) string {
	if name, ok := attNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode_0x%02x", op)
}

// ATT is an attribute protocol PDU. Handle is only meaningful when
// HasHandle is set; Value is the layer payload.
type ATT struct {
	layers.BaseLayer
	Opcode    uint8
	HasHandle bool
	Handle    uint16
}

func (a *ATT) LayerType() gopacket.LayerType { return LayerTypeATT }

// CarriesValue reports whether the PDU transports an attribute value
// written by the client or pushed by the server.
func (a *ATT) CarriesValue() bool {
	switch a.Opcode {
	case ATTWriteReq, ATTWriteCmd, ATTNotification, ATTIndication:
		return true
	}
	return false
}

func (a *ATT) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 1 {
		df.SetTruncated()
		return errTooShort("ATT", 1, len(data))
	}
	a.Opcode = data[0]
	a.HasHandle = false
	a.Handle = 0

	switch a.Opcode {
	case ATTReadReq, ATTWriteReq, ATTWriteCmd, ATTNotification, ATTIndication:
		if len(data) < 3 {
			df.SetTruncated()
			return errTooShort("ATT", 3, len(data))
		}
		a.HasHandle = true
		a.Handle = binary.LittleEndian.Uint16(data[1:3])
		a.BaseLayer = layers.BaseLayer{Contents: data[:3], Payload: data[3:]}
	default:
		a.BaseLayer = layers.BaseLayer{Contents: data[:1], Payload: data[1:]}
	}
	return nil
}

func decodeATT(data []byte, p gopacket.PacketBuilder) error {
	a := &ATT{}
	if err := a.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(a)
	return decodeNext(p, gopacket.LayerTypePayload, a.Payload)
}

// RFCOMM frame types, with the poll/final bit cleared.
const (
	RFCOMMSABM uint8 = 0x2f
	RFCOMMUA   uint8 = 0x63
	RFCOMMDM   uint8 = 0x0f
	RFCOMMDISC uint8 = 0x43
	RFCOMMUIH  uint8 = 0xef

	rfcommPF uint8 = 0x10
)

// RFCOMM is a TS 07.10 frame carried on an L2CAP channel for PSM 3.
// The payload excludes the trailing FCS byte.
type RFCOMM struct {
	layers.BaseLayer
	DLCI       uint8
	Control    uint8
	Length     uint16
	HasCredits bool
	Credits    uint8
	FCS        uint8
}

func (r *RFCOMM) LayerType() gopacket.LayerType { return LayerTypeRFCOMM }

// FrameType is the control field without the poll/final bit.
func (r *RFCOMM) FrameType() uint8 { return r.Control &^ rfcommPF }

// UserData reports whether the frame carries data for a serial channel,
// as opposed to multiplexer control traffic.
func (r *RFCOMM) UserData() bool {
	return r.FrameType() == RFCOMMUIH && r.DLCI != 0
}

func (r *RFCOMM) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 {
		df.SetTruncated()
		return errTooShort("RFCOMM", 4, len(data))
	}
	r.DLCI = data[0] >> 2
	r.Control = data[1]

	hdr := 3
	if data[2]&0x01 != 0 {
		r.Length = uint16(data[2] >> 1)
	} else {
		r.Length = uint16(data[2]>>1) | uint16(data[3])<<7
		hdr = 4
	}

	r.HasCredits = false
	r.Credits = 0
	if r.FrameType() == RFCOMMUIH && r.Control&rfcommPF != 0 && r.DLCI != 0 {
		if len(data) < hdr+1 {
			df.SetTruncated()
			return errTooShort("RFCOMM", hdr+1, len(data))
		}
		r.HasCredits = true
		r.Credits = data[hdr]
		hdr++
	}

	end := hdr + int(r.Length)
	if end+1 > len(data) {
		df.SetTruncated()
		return errTooShort("RFCOMM", end+1, len(data))
	}
	r.FCS = data[end]
	r.BaseLayer = layers.BaseLayer{Contents: data[:hdr], Payload: data[hdr:end]}
	return nil
}

func decodeRFCOMM(data []byte, p gopacket.PacketBuilder) error {
	r := &RFCOMM{}
	if err := r.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(r)
	return decodeNext(p, gopacket.LayerTypePayload, r.Payload)
}
