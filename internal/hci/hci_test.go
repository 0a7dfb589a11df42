package hci

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gosnoop/internal/fixture"
	"gosnoop/internal/models"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeCommandLayer(t *testing.T) {
	pkt := gopacket.NewPacket(fixture.Command(0x0c03, []byte{0xaa}), LayerTypeH4, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	cmd, ok := pkt.Layer(LayerTypeHCICommand).(*HCICommand)
	require.True(t, ok)
	require.EqualValues(t, 0x0c03, cmd.Opcode)
	require.EqualValues(t, 0x03, cmd.OGF())
	require.EqualValues(t, 0x003, cmd.OCF())
	require.Equal(t, []byte{0xaa}, cmd.LayerPayload())
}

func TestDecodeACLToATT(t *testing.T) {
	data := fixture.ACL(0x0041, BoundaryFirstFlushable, fixture.L2CAP(CIDATT, fixture.ATT(ATTWriteReq, 0x0021, []byte{1, 2, 3})))
	pkt := gopacket.NewPacket(data, LayerTypeH4, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	acl := pkt.Layer(LayerTypeHCIACL).(*HCIACL)
	require.EqualValues(t, 0x0041, acl.Handle)
	require.Equal(t, BoundaryFirstFlushable, acl.Boundary)

	l2 := pkt.Layer(LayerTypeL2CAP).(*L2CAP)
	require.Equal(t, CIDATT, l2.CID)

	att := pkt.Layer(LayerTypeATT).(*ATT)
	require.True(t, att.HasHandle)
	require.EqualValues(t, 0x0021, att.Handle)
	require.True(t, att.CarriesValue())
	require.Equal(t, []byte{1, 2, 3}, att.LayerPayload())
}

func TestDecodeTruncatedEvent(t *testing.T) {
	pkt := gopacket.NewPacket([]byte{0x04, 0x0e}, LayerTypeH4, gopacket.Default)
	require.NotNil(t, pkt.ErrorLayer())
}

func TestDecodeRFCOMMCredits(t *testing.T) {
	// UIH with P/F set on dlci 2: one credit byte precedes the data.
	frame := []byte{2<<2 | 0x03, 0xff, 2<<1 | 1, 0x05, 'h', 'i', 0x00}
	pkt := gopacket.NewPacket(frame, LayerTypeRFCOMM, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	rf := pkt.Layer(LayerTypeRFCOMM).(*RFCOMM)
	require.EqualValues(t, 2, rf.DLCI)
	require.True(t, rf.HasCredits)
	require.EqualValues(t, 5, rf.Credits)
	require.True(t, rf.UserData())
	require.Equal(t, []byte("hi"), rf.LayerPayload())
}

func TestAssemblerReassemblesFragments(t *testing.T) {
	pdu := fixture.L2CAP(CIDATT, fixture.ATT(ATTNotification, 0x0012, bytes.Repeat([]byte{0x42}, 30)))

	asm := NewAssembler()
	first := &HCIACL{Handle: 1, Boundary: BoundaryFirstFlushable}
	first.Payload = pdu[:10]
	_, ok := asm.Push(models.Received, first)
	require.False(t, ok)

	// Same handle, other direction must not interfere.
	other := &HCIACL{Handle: 1, Boundary: BoundaryContinuation}
	other.Payload = pdu[10:]
	_, ok = asm.Push(models.Sent, other)
	require.False(t, ok)

	cont := &HCIACL{Handle: 1, Boundary: BoundaryContinuation}
	cont.Payload = pdu[10:]
	got, ok := asm.Push(models.Received, cont)
	require.True(t, ok)
	require.Equal(t, pdu, got)
}

func TestAssemblerTracksChannels(t *testing.T) {
	asm := NewAssembler()
	asm.Signal(1, models.Sent, fixture.Signal(0x02, 1, fixture.ConnReq(PSMRFCOMM, 0x0040)))
	require.Zero(t, asm.PSM(1, models.Sent, 0x0070))

	asm.Signal(1, models.Received, fixture.Signal(0x03, 1, fixture.ConnRsp(0x0070, 0x0040)))
	require.Equal(t, PSMRFCOMM, asm.PSM(1, models.Sent, 0x0070))
	require.Equal(t, PSMRFCOMM, asm.PSM(1, models.Received, 0x0040))
	require.Zero(t, asm.PSM(2, models.Sent, 0x0070))
	require.Equal(t, PSMATT, asm.PSM(9, models.Sent, CIDATT))

	// Disconnect issued by the host names the remote channel as destination.
	asm.Signal(1, models.Sent, fixture.Signal(0x06, 2, []byte{0x70, 0x00, 0x40, 0x00}))
	require.Zero(t, asm.PSM(1, models.Sent, 0x0070))
	require.Zero(t, asm.PSM(1, models.Received, 0x0040))
}

func TestDissectRFCOMMSession(t *testing.T) {
	capture := fixture.Capture(t,
		fixture.Packet{Data: fixture.ACL(1, 0x02, fixture.L2CAP(CIDSignaling, fixture.Signal(0x02, 1, fixture.ConnReq(PSMRFCOMM, 0x0040))))},
		fixture.Packet{Received: true, Data: fixture.ACL(1, 0x02, fixture.L2CAP(CIDSignaling, fixture.Signal(0x03, 1, fixture.ConnRsp(0x0070, 0x0040))))},
		fixture.Packet{Data: fixture.ACL(1, 0x02, fixture.L2CAP(0x0070, fixture.RFCOMMUIH(2, []byte("ping"))))},
		fixture.Packet{Received: true, Data: fixture.ACL(1, 0x02, fixture.L2CAP(0x0040, fixture.RFCOMMUIH(2, []byte("pong"))))},
	)

	dis := NewDissector()
	var recs []models.Record
	var payloads []models.Payload
	_, err := ReadFrames(bytes.NewReader(capture), func(f models.Frame) error {
		rec, p := dis.Dissect(f)
		recs = append(recs, rec)
		payloads = append(payloads, p...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 4)

	require.Equal(t, "L2CAP-Signaling", recs[0].L2CAP.Service)
	require.Equal(t, "RFCOMM", recs[2].L2CAP.Service)
	require.EqualValues(t, 2, recs[2].RFCOMM.DLCI)
	require.Equal(t, models.Received, recs[3].Direction)

	require.Len(t, payloads, 2)
	require.Equal(t, "rfcomm", payloads[0].Channel)
	require.Equal(t, []byte("ping"), payloads[0].Data)
	require.Equal(t, models.Sent, payloads[0].Direction)
	require.Equal(t, []byte("pong"), payloads[1].Data)
	require.Equal(t, 4, payloads[1].Frame)
}

func TestDissectFragmentedATT(t *testing.T) {
	value := bytes.Repeat([]byte{0x7e}, 40)
	pdu := fixture.L2CAP(CIDATT, fixture.ATT(ATTNotification, 0x0012, value))

	capture := fixture.Capture(t,
		fixture.Packet{Received: true, Data: fixture.ACL(2, BoundaryFirstFlushable, pdu[:20])},
		fixture.Packet{Received: true, Data: fixture.ACL(2, BoundaryContinuation, pdu[20:])},
	)

	dis := NewDissector()
	var recs []models.Record
	var payloads []models.Payload
	_, err := ReadFrames(bytes.NewReader(capture), func(f models.Frame) error {
		rec, p := dis.Dissect(f)
		recs = append(recs, rec)
		payloads = append(payloads, p...)
		return nil
	})
	require.NoError(t, err)

	require.Nil(t, recs[0].L2CAP)
	require.NotEmpty(t, recs[0].Payload)

	require.NotNil(t, recs[1].ATT)
	require.True(t, recs[1].ACL.Reassembled)
	require.Equal(t, "handle_value_notification", recs[1].ATT.Name)
	require.EqualValues(t, 0x0012, *recs[1].ATT.Handle)

	require.Len(t, payloads, 1)
	require.Equal(t, value, payloads[0].Data)
}

func TestNativeDecoderEmitsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btsnoop_hci.log")
	require.NoError(t, os.WriteFile(path, fixture.Session(t), 0o644))

	var lines []map[string]any
	err := NewDecoder(zap.NewNop()).Decode(context.Background(), path, func(raw json.RawMessage) error {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		lines = append(lines, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, lines, 4)

	require.Equal(t, "command", lines[0]["kind"])
	require.Equal(t, "sent", lines[0]["direction"])
	require.Equal(t, "event", lines[1]["kind"])
	require.Equal(t, "received", lines[1]["direction"])

	att := lines[2]["att"].(map[string]any)
	require.Equal(t, "write_command", att["name"])
	require.EqualValues(t, 1, lines[0]["frame"])
}

func TestRecordOmitsZeroCounters(t *testing.T) {
	b, err := json.Marshal(models.Record{Frame: 1, Kind: models.KindEvent, Length: 3})
	require.NoError(t, err)
	require.NotContains(t, string(b), `"captured"`)
	require.NotContains(t, string(b), `"drops"`)

	b, err = json.Marshal(models.Record{Frame: 1, Kind: models.KindEvent, Length: 3, Captured: 2, Drops: 1})
	require.NoError(t, err)
	require.Contains(t, string(b), `"captured":2`)
	require.Contains(t, string(b), `"drops":1`)
}

func TestNativeDecoderHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btsnoop_hci.log")
	require.NoError(t, os.WriteFile(path, fixture.Session(t), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDecoder(zap.NewNop()).Decode(ctx, path, func(json.RawMessage) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
