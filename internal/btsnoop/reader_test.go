package btsnoop

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	ts := time.Date(2024, 5, 17, 10, 30, 0, 123456000, time.UTC)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, DatalinkH4)
	require.NoError(t, err)

	records := []Record{
		{Flags: FlagCommand, Timestamp: ts, Data: []byte{0x01, 0x03, 0x0c, 0x00}},
		{Flags: FlagCommand | FlagReceived, Timestamp: ts.Add(time.Millisecond), Drops: 2, Data: []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}},
		{OriginalLength: 40, Flags: FlagReceived, Timestamp: ts.Add(2 * time.Millisecond), Data: []byte{0x02, 0x40, 0x20}},
	}
	for _, rec := range records {
		require.NoError(t, w.WriteRecord(rec))
	}

	r, err := NewReader(&buf)
	require.NoError(t, err)
	require.Equal(t, Header{Version: 1, Datalink: DatalinkH4}, r.Header())

	for i, want := range records {
		got, err := r.Next()
		require.NoError(t, err, "record %d", i)
		require.Equal(t, want.Data, got.Data)
		require.Equal(t, want.Flags, got.Flags)
		require.Equal(t, want.Drops, got.Drops)
		require.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %v != %v", got.Timestamp, want.Timestamp)
	}

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestOriginalLengthDefaultsToData(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, DatalinkH4)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord(Record{Data: []byte{0x01, 0x02}}))
	require.NoError(t, w.WriteRecord(Record{OriginalLength: 9, Data: []byte{0x01, 0x02}}))

	r, err := NewReader(&buf)
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)
	require.EqualValues(t, 2, rec.OriginalLength)

	rec, err = r.Next()
	require.NoError(t, err)
	require.EqualValues(t, 9, rec.OriginalLength)
}

func TestH1SynthesizesPacketType(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, DatalinkH1)
	require.NoError(t, err)

	require.NoError(t, w.WriteRecord(Record{Flags: FlagCommand, Data: []byte{0x03, 0x0c, 0x00}}))
	require.NoError(t, w.WriteRecord(Record{Flags: FlagCommand | FlagReceived, Data: []byte{0x0e, 0x00}}))
	require.NoError(t, w.WriteRecord(Record{Flags: FlagReceived, Data: []byte{0x40, 0x20, 0x00, 0x00}}))

	r, err := NewReader(&buf)
	require.NoError(t, err)

	wantTypes := []byte{h4Command, h4Event, h4ACL}
	for _, typ := range wantTypes {
		data, ci, err := r.ReadPacketData()
		require.NoError(t, err)
		require.Equal(t, typ, data[0])
		require.Equal(t, len(data), ci.CaptureLength)
		require.Equal(t, ci.CaptureLength, ci.Length)
		require.Len(t, ci.AncillaryData, 2)
	}
}

func TestNewReaderErrors(t *testing.T) {
	header := func(ver uint32, dl Datalink) []byte {
		b := append([]byte{}, magic[:]...)
		b = binary.BigEndian.AppendUint32(b, ver)
		return binary.BigEndian.AppendUint32(b, uint32(dl))
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte("btsn"), io.ErrUnexpectedEOF},
		{"magic", append([]byte("pcapfile"), make([]byte, 8)...), ErrBadMagic},
		{"version", header(2, DatalinkH4), ErrUnsupportedVersion},
		{"monitor", header(1, DatalinkMonitor), ErrUnsupportedDatalink},
		{"bcsp", header(1, DatalinkBCSP), ErrUnsupportedDatalink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.data))
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, DatalinkH4)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord(Record{Data: []byte{0x01, 0x02, 0x03, 0x04}}))

	data := buf.Bytes()[:buf.Len()-2]
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = r.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
