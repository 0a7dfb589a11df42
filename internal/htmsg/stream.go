package htmsg

import (
	"bytes"

	"go.uber.org/zap"
)

// Stream reassembles messages from a byte stream that may split or join
// them arbitrarily. Use one Stream per direction.
type Stream struct {
	buf []byte
	log *zap.Logger
}

func NewStream(log *zap.Logger) *Stream {
	return &Stream{log: log}
}

// Buffered returns the number of bytes waiting for more data.
func (s *Stream) Buffered() int {
	return len(s.buf)
}

// Feed appends data and returns every message it completed. Bytes before
// a start flag are discarded. A decode error leaves the offending message
// at the head of the buffer.
func (s *Stream) Feed(data []byte) ([]Message, error) {
	s.buf = append(s.buf, data...)

	var msgs []Message
	for len(s.buf) >= headerLen {
		if s.buf[0] != 0xff {
			idx := bytes.IndexByte(s.buf, 0xff)
			s.log.Warn("discarding bytes before start flag",
				zap.Int("discarded", skipped(idx, len(s.buf))),
				zap.Binary("head", head(s.buf)))
			if idx < 0 {
				s.buf = s.buf[:0]
			} else {
				s.buf = s.buf[idx:]
			}
			continue
		}

		m, n, err := Decode(s.buf)
		if err != nil {
			return msgs, err
		}
		if m == nil {
			break
		}
		msgs = append(msgs, m)
		s.buf = s.buf[n:]
	}

	if len(s.buf) == 0 {
		s.buf = nil
	}
	return msgs, nil
}

func skipped(idx, n int) int {
	if idx < 0 {
		return n
	}
	return idx
}

func head(b []byte) []byte {
	if len(b) > 16 {
		return b[:16]
	}
	return b
}
