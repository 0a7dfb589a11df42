package htmsg

import (
	"fmt"
)

// HeaderError reports a message header that violates the framing.
type HeaderError struct {
	Msg    string
	Header []byte
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("header decode: %s (header %x)", e.Msg, e.Header)
}

// BodyError reports a body that does not match its message type.
type BodyError struct {
	Type string
	Msg  string
	Body []byte
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("%s body decode: %s (body %x)", e.Type, e.Msg, e.Body)
}

// Encode frames a message.
func Encode(m Message) ([]byte, error) {
	body := m.body()
	if len(body) > 0xff {
		return nil, fmt.Errorf("%s: body of %d bytes exceeds 255", m.TypeName(), len(body))
	}
	t := m.TypeID()
	out := make([]byte, 0, headerLen+len(body))
	out = append(out, 0xff, 0x01, 0x00, byte(len(body)), 0x00, 0x02, t[0], t[1])
	return append(out, body...), nil
}

// Decode reads one message from the front of buf. It returns the number
// of bytes consumed, or 0 with a nil message when buf does not yet hold a
// complete message.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < headerLen {
		return nil, 0, nil
	}
	hdr := buf[:headerLen]

	checks := []struct {
		idx  int
		want byte
		name string
	}{
		{0, 0xff, "start_flag"},
		{1, 0x01, "constant_1"},
		{2, 0x00, "reserved_1"},
		{4, 0x00, "reserved_2"},
		{5, 0x02, "constant_2"},
	}
	for _, c := range checks {
		if hdr[c.idx] != c.want {
			return nil, 0, &HeaderError{
				Msg:    fmt.Sprintf("expected byte[%d](%s) = 0x%02x, got 0x%02x", c.idx, c.name, c.want, hdr[c.idx]),
				Header: append([]byte(nil), hdr...),
			}
		}
	}

	n := headerLen + int(hdr[3])
	if len(buf) < n {
		return nil, 0, nil
	}
	body := buf[headerLen:n]
	typ := TypeID{hdr[6], hdr[7]}

	var (
		m   Message
		err error
	)
	switch typ {
	case TypeRadioReceivedAprsChunk:
		m, err = decodeAprsChunk(body)
	case TypeChannelInfoRequest:
		m, err = decodeChannelInfoRequest(body)
	case TypeChannelInfoResponse:
		m, err = decodeChannelInfoResponse(body)
	case TypeSetDigitalMessageUpdates:
		m, err = decodeSetDigitalMessageUpdates(body)
	default:
		m = Unknown{Type: typ, Data: append([]byte(nil), body...)}
	}
	if err != nil {
		return nil, 0, err
	}
	return m, n, nil
}
