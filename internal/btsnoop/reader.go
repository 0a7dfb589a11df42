package btsnoop

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket"
)

// H4 packet type indicators, synthesized for H1 captures.
const (
	h4Command = 0x01
	h4ACL     = 0x02
	h4Event   = 0x04
)

// maxRecordLen bounds a single record so that a corrupt length field
// cannot make the reader allocate unbounded memory.
const maxRecordLen = 1 << 20

// Reader reads records from a btsnoop stream. It implements
// gopacket.PacketDataSource, always yielding H4-framed packet data.
type Reader struct {
	r   *bufio.Reader
	hdr Header
	buf [recordLen]byte
}

// NewReader reads and validates the file header. Only H1 and H4 captures
// are accepted.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	var hdr [headerLen]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("btsnoop: reading header: %w", err)
	}
	if [8]byte(hdr[:8]) != magic {
		return nil, ErrBadMagic
	}

	h := Header{
		Version:  binary.BigEndian.Uint32(hdr[8:12]),
		Datalink: Datalink(binary.BigEndian.Uint32(hdr[12:16])),
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Datalink != DatalinkH1 && h.Datalink != DatalinkH4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatalink, h.Datalink)
	}

	return &Reader{r: br, hdr: h}, nil
}

// Header returns the parsed file header.
func (r *Reader) Header() Header {
	return r.hdr
}

// Next returns the next record as stored in the file. It returns io.EOF
// at a clean end of stream and io.ErrUnexpectedEOF on a partial record.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		return Record{}, err
	}

	orig := binary.BigEndian.Uint32(r.buf[0:4])
	incl := binary.BigEndian.Uint32(r.buf[4:8])
	if incl > maxRecordLen {
		return Record{}, fmt.Errorf("btsnoop: record length %d exceeds limit", incl)
	}

	rec := Record{
		OriginalLength: orig,
		Flags:          Flags(binary.BigEndian.Uint32(r.buf[8:12])),
		Drops:          binary.BigEndian.Uint32(r.buf[12:16]),
		Timestamp:      toTimestamp(int64(binary.BigEndian.Uint64(r.buf[16:24]))),
		Data:           make([]byte, incl),
	}
	if _, err := io.ReadFull(r.r, rec.Data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}
	return rec, nil
}

// H4 returns the record data in H4 framing. H1 records get a packet type
// byte derived from their flags.
func (r *Reader) H4(rec Record) []byte {
	if r.hdr.Datalink == DatalinkH4 {
		return rec.Data
	}

	var typ byte
	switch {
	case rec.Flags.Command() && rec.Flags.Received():
		typ = h4Event
	case rec.Flags.Command():
		typ = h4Command
	default:
		typ = h4ACL
	}
	out := make([]byte, 0, len(rec.Data)+1)
	out = append(out, typ)
	return append(out, rec.Data...)
}

// ReadPacketData implements gopacket.PacketDataSource. The record flags
// and drop counter are carried in CaptureInfo.AncillaryData, in that order.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	rec, err := r.Next()
	if err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}

	data := r.H4(rec)
	length := int(rec.OriginalLength)
	if r.hdr.Datalink == DatalinkH1 {
		length++
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     rec.Timestamp,
		CaptureLength: len(data),
		Length:        length,
		AncillaryData: []interface{}{rec.Flags, rec.Drops},
	}
	return data, ci, nil
}
