// Package htmsg decodes the framed messages a Benshi handheld radio
// exchanges with its companion app.
//
// Every message starts with an 8-byte header:
//
//	ff 01 00 <body length> 00 02 <type hi> <type lo>
//
// followed by the body. The high bit of the type marks a reply.
package htmsg

import (
	"fmt"
	"strings"
)

const headerLen = 8

// TypeID is the two-byte message type.
type TypeID [2]byte

func (t TypeID) String() string {
	return fmt.Sprintf("[0x%02x,0x%02x]", t[0], t[1])
}

var (
	TypeSetDigitalMessageUpdates = TypeID{0x00, 0x06}
	TypeRadioReceivedAprsChunk   = TypeID{0x00, 0x09}
	TypeChannelInfoRequest       = TypeID{0x00, 0x0d}
	TypeChannelInfoResponse      = TypeID{0x80, 0x0d}
)

// Message is one decoded radio message.
type Message interface {
	// TypeName is the snake_case name used in parser output.
	TypeName() string
	TypeID() TypeID
	body() []byte
	String() string
}

// DecodeStatus is the outcome the radio reports for a received APRS packet.
type DecodeStatus uint8

const (
	DecodeError DecodeStatus = 0x01
	DecodeOK    DecodeStatus = 0x02
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodeOK:
		return "ok"
	case DecodeError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// RadioReceivedAprsChunk carries one chunk of an APRS packet heard on air.
type RadioReceivedAprsChunk struct {
	Data         []byte
	ChunkNum     uint8
	IsFinalChunk bool
	Status       DecodeStatus
}

func (m RadioReceivedAprsChunk) TypeName() string { return "radio_received_aprs_chunk" }
func (m RadioReceivedAprsChunk) TypeID() TypeID   { return TypeRadioReceivedAprsChunk }

func (m RadioReceivedAprsChunk) body() []byte {
	info := m.ChunkNum & 0x7f
	if m.IsFinalChunk {
		info |= 0x80
	}
	return append([]byte{byte(m.Status), info}, m.Data...)
}

func (m RadioReceivedAprsChunk) String() string {
	return fmt.Sprintf("RadioReceivedAprsChunk{chunk=%d final=%t status=%s data=%q}",
		m.ChunkNum, m.IsFinalChunk, m.Status, Printable(m.Data))
}

func decodeAprsChunk(b []byte) (Message, error) {
	m := RadioReceivedAprsChunk{}
	if len(b) < 2 {
		return nil, &BodyError{Type: m.TypeName(), Msg: fmt.Sprintf("expected at least 2 bytes, got %d", len(b)), Body: b}
	}
	switch DecodeStatus(b[0]) {
	case DecodeOK, DecodeError:
		m.Status = DecodeStatus(b[0])
	default:
		return nil, &BodyError{Type: m.TypeName(), Msg: fmt.Sprintf("unknown decode status %d", b[0]), Body: b}
	}
	m.IsFinalChunk = b[1]&0x80 != 0
	m.ChunkNum = b[1] & 0x7f
	m.Data = append([]byte(nil), b[2:]...)
	return m, nil
}

// ChannelInfoRequest asks the radio for one channel's settings.
type ChannelInfoRequest struct {
	ChannelID uint8
}

func (m ChannelInfoRequest) TypeName() string { return "channel_info_request" }
func (m ChannelInfoRequest) TypeID() TypeID   { return TypeChannelInfoRequest }
func (m ChannelInfoRequest) body() []byte     { return []byte{m.ChannelID} }

func (m ChannelInfoRequest) String() string {
	return fmt.Sprintf("ChannelInfoRequest{channel=%d}", m.ChannelID)
}

func decodeChannelInfoRequest(b []byte) (Message, error) {
	if len(b) != 1 {
		return nil, &BodyError{Type: "channel_info_request", Msg: fmt.Sprintf("expected body length 1, got %d", len(b)), Body: b}
	}
	return ChannelInfoRequest{ChannelID: b[0]}, nil
}

// ChannelInfoResponse is the radio's answer to a ChannelInfoRequest.
type ChannelInfoResponse struct {
	ActionID  uint8
	ChannelID uint8
	Data      []byte
}

func (m ChannelInfoResponse) TypeName() string { return "channel_info_response" }
func (m ChannelInfoResponse) TypeID() TypeID   { return TypeChannelInfoResponse }

func (m ChannelInfoResponse) body() []byte {
	return append([]byte{m.ActionID, m.ChannelID}, m.Data...)
}

func (m ChannelInfoResponse) String() string {
	return fmt.Sprintf("ChannelInfoResponse{action=%d channel=%d data=%x}", m.ActionID, m.ChannelID, m.Data)
}

func decodeChannelInfoResponse(b []byte) (Message, error) {
	if len(b) < 2 {
		return nil, &BodyError{Type: "channel_info_response", Msg: fmt.Sprintf("expected at least 2 bytes, got %d", len(b)), Body: b}
	}
	return ChannelInfoResponse{ActionID: b[0], ChannelID: b[1], Data: append([]byte(nil), b[2:]...)}, nil
}

// SetDigitalMessageUpdates turns unsolicited digital message reports on or off.
type SetDigitalMessageUpdates struct {
	Enabled bool
}

func (m SetDigitalMessageUpdates) TypeName() string { return "set_digital_message_updates" }
func (m SetDigitalMessageUpdates) TypeID() TypeID   { return TypeSetDigitalMessageUpdates }

func (m SetDigitalMessageUpdates) body() []byte {
	if m.Enabled {
		return []byte{0x01}
	}
	return []byte{0x00}
}

func (m SetDigitalMessageUpdates) String() string {
	return fmt.Sprintf("SetDigitalMessageUpdates{enabled=%t}", m.Enabled)
}

func decodeSetDigitalMessageUpdates(b []byte) (Message, error) {
	const name = "set_digital_message_updates"
	if len(b) != 1 {
		return nil, &BodyError{Type: name, Msg: fmt.Sprintf("expected body length 1, got %d", len(b)), Body: b}
	}
	if b[0] > 0x01 {
		return nil, &BodyError{Type: name, Msg: fmt.Sprintf("expected 0x00 or 0x01, got 0x%02x", b[0]), Body: b}
	}
	return SetDigitalMessageUpdates{Enabled: b[0] == 0x01}, nil
}

// Unknown holds a message of a type this package does not model.
type Unknown struct {
	Type TypeID
	Data []byte
}

func (m Unknown) TypeName() string { return "unknown" }
func (m Unknown) TypeID() TypeID   { return m.Type }
func (m Unknown) body() []byte     { return m.Data }

func (m Unknown) String() string {
	return fmt.Sprintf("Unknown{type=%s data=%x}", m.Type, m.Data)
}

// Printable replaces non-printable ASCII bytes with '.'.
func Printable(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c >= 32 && c <= 126 {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
