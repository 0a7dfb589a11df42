package htmsg

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Frame directions as they appear in parser input.
const (
	DirPhoneToRadio = "phone->radio"
	DirRadioToPhone = "radio->phone"
)

// ErrUnknownDirection is returned for frames whose dir is neither
// DirPhoneToRadio nor DirRadioToPhone.
var ErrUnknownDirection = errors.New("unknown direction")

// FrameError ties a parse failure to the frame that caused it.
type FrameError struct {
	ID  string
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("error processing frame %s: %v", e.ID, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Parser feeds frames into one stream per direction and writes every
// decoded message as a CSV row: id, dir, msg_type, msg.
type Parser struct {
	toRadio *Stream
	toPhone *Stream
	out     *csv.Writer
	rows    int
}

// NewParser writes the CSV header and returns a parser writing to w.
func NewParser(w io.Writer, log *zap.Logger) (*Parser, error) {
	p := &Parser{
		toRadio: NewStream(log.With(zap.String("dir", DirPhoneToRadio))),
		toPhone: NewStream(log.With(zap.String("dir", DirRadioToPhone))),
		out:     csv.NewWriter(w),
	}
	if err := p.out.Write([]string{"id", "dir", "msg_type", "msg"}); err != nil {
		return nil, err
	}
	return p, nil
}

// Rows is the number of messages written so far.
func (p *Parser) Rows() int { return p.rows }

// Feed processes one frame. Errors are wrapped in a FrameError.
func (p *Parser) Feed(id, dir string, data []byte) error {
	var s *Stream
	switch dir {
	case DirPhoneToRadio:
		s = p.toRadio
	case DirRadioToPhone:
		s = p.toPhone
	default:
		return &FrameError{ID: id, Err: fmt.Errorf("%w: %q", ErrUnknownDirection, dir)}
	}

	msgs, err := s.Feed(data)
	for _, m := range msgs {
		if werr := p.out.Write([]string{id, dir, m.TypeName(), m.String()}); werr != nil {
			return werr
		}
		p.rows++
	}
	if err != nil {
		return &FrameError{ID: id, Err: err}
	}
	return nil
}

// Flush writes buffered rows.
func (p *Parser) Flush() error {
	p.out.Flush()
	return p.out.Error()
}

// ParseHex decodes frame data written as hex, optionally colon separated.
func ParseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
}

// ParseCSV reads frames from a CSV with id, dir and data columns (in any
// order, selected by header) and writes decoded messages to w. It stops
// at the first bad frame; rows decoded before it are still written.
func ParseCSV(r io.Reader, w io.Writer, log *zap.Logger) error {
	in := csv.NewReader(r)
	in.FieldsPerRecord = -1

	header, err := in.Read()
	if err == io.EOF {
		return errors.New("empty input: missing header row")
	}
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, need := range []string{"id", "dir", "data"} {
		if _, ok := cols[need]; !ok {
			return fmt.Errorf("input is missing column %q", need)
		}
	}

	p, err := NewParser(w, log)
	if err != nil {
		return err
	}
	defer p.Flush()

	field := func(rec []string, name string) string {
		if i := cols[name]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	for {
		rec, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading frames: %w", err)
		}

		id := field(rec, "id")
		data, err := ParseHex(field(rec, "data"))
		if err != nil {
			ferr := &FrameError{ID: id, Err: fmt.Errorf("bad hex data: %w", err)}
			log.Error("stopping parser", zap.Error(ferr))
			return ferr
		}

		if err := p.Feed(id, field(rec, "dir"), data); err != nil {
			log.Error("stopping parser", zap.Binary("data", data), zap.Error(err))
			return err
		}
	}

	return p.Flush()
}
