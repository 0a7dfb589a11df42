package hci

import (
	"encoding/hex"
	"fmt"
	"io"

	"gosnoop/internal/analysis"
	"gosnoop/internal/btsnoop"
	"gosnoop/internal/models"

	"github.com/google/gopacket"
)

// ReadFrames reads a btsnoop capture and calls fn for every record in order.
// Decoding is lazy here; Dissect does the protocol work.
func ReadFrames(r io.Reader, fn func(models.Frame) error) (btsnoop.Header, error) {
	br, err := btsnoop.NewReader(r)
	if err != nil {
		return btsnoop.Header{}, err
	}

	src := gopacket.NewPacketSource(br, LayerTypeH4)
	src.Lazy = true
	src.NoCopy = true

	for n := 1; ; n++ {
		pkt, err := src.NextPacket()
		if err == io.EOF {
			return br.Header(), nil
		}
		if err != nil {
			return br.Header(), fmt.Errorf("frame %d: %w", n, err)
		}

		md := pkt.Metadata()
		f := models.Frame{
			Number:         n,
			Timestamp:      md.Timestamp,
			OriginalLength: md.Length,
			IncludedLength: md.CaptureLength,
			Data:           pkt.Data(),
			Kind:           models.KindUnknown,
		}
		if len(md.AncillaryData) == 2 {
			if flags, ok := md.AncillaryData[0].(btsnoop.Flags); ok && flags.Received() {
				f.Direction = models.Received
			}
			if drops, ok := md.AncillaryData[1].(uint32); ok {
				f.Drops = drops
			}
		}
		if len(f.Data) > 0 {
			f.Kind = kindOf(PacketType(f.Data[0]))
		}

		if err := fn(f); err != nil {
			return br.Header(), err
		}
	}
}

func kindOf(t PacketType) models.Kind {
	switch t {
	case TypeCommand:
		return models.KindCommand
	case TypeACL:
		return models.KindACL
	case TypeSCO:
		return models.KindSCO
	case TypeEvent:
		return models.KindEvent
	case TypeISO:
		return models.KindISO
	}
	return models.KindUnknown
}

// Dissector turns frames into records. It is stateful: ACL reassembly and
// channel tracking span frames, so one Dissector serves one capture.
type Dissector struct {
	asm *Assembler
}

func NewDissector() *Dissector {
	return &Dissector{asm: NewAssembler()}
}

// Dissect decodes one frame. Alongside the record it returns any upper
// layer payloads (ATT values, RFCOMM user data) the frame completed.
func (d *Dissector) Dissect(f models.Frame) (models.Record, []models.Payload) {
	rec := models.Record{
		Frame:     f.Number,
		Timestamp: f.Timestamp,
		Direction: f.Direction,
		Kind:      f.Kind,
		Length:    f.OriginalLength,
		Captured:  f.IncludedLength,
		Drops:     f.Drops,
	}

	pkt := gopacket.NewPacket(f.Data, LayerTypeH4, gopacket.NoCopy)

	var rest []byte
	var payloads []models.Payload

	if l, ok := pkt.Layer(LayerTypeH4).(*H4); ok {
		rest = l.Payload
	}

	switch {
	case pkt.Layer(LayerTypeHCICommand) != nil:
		c := pkt.Layer(LayerTypeHCICommand).(*HCICommand)
		rec.Command = &models.CommandInfo{Opcode: c.Opcode, OGF: c.OGF(), OCF: c.OCF(), Params: int(c.ParamLength)}
		rest = c.Payload

	case pkt.Layer(LayerTypeHCIEvent) != nil:
		e := pkt.Layer(LayerTypeHCIEvent).(*HCIEvent)
		rec.Event = &models.EventInfo{Code: e.Code, Params: int(e.ParamLength)}
		rest = e.Payload

	case pkt.Layer(LayerTypeHCISCO) != nil:
		s := pkt.Layer(LayerTypeHCISCO).(*HCISCO)
		rec.SCO = &models.SCOInfo{Handle: s.Handle, Length: int(s.Length)}
		rest = s.Payload

	case pkt.Layer(LayerTypeHCIISO) != nil:
		i := pkt.Layer(LayerTypeHCIISO).(*HCIISO)
		rec.ISO = &models.ISOInfo{Handle: i.Handle, Boundary: i.Boundary, Length: int(i.Length)}
		rest = i.Payload

	case pkt.Layer(LayerTypeHCIACL) != nil:
		a := pkt.Layer(LayerTypeHCIACL).(*HCIACL)
		rec.ACL = &models.ACLInfo{Handle: a.Handle, Boundary: a.Boundary, Broadcast: a.Broadcast, Length: int(a.Length)}
		rest = a.Payload

		if pdu, ok := d.asm.Push(f.Direction, a); ok {
			rec.ACL.Reassembled = !a.Start() || len(pdu) != len(a.Payload)
			rest, payloads = d.l2cap(&rec, f, a.Handle, pdu)
		}
	}

	if el := pkt.ErrorLayer(); el != nil && rec.Error == "" {
		rec.Error = el.Error().Error()
	}
	if len(rest) > 0 {
		rec.Payload = hex.EncodeToString(rest)
	}
	return rec, payloads
}

func (d *Dissector) l2cap(rec *models.Record, f models.Frame, handle uint16, pdu []byte) ([]byte, []models.Payload) {
	inner := gopacket.NewPacket(pdu, LayerTypeL2CAP, gopacket.NoCopy)
	l, ok := inner.Layer(LayerTypeL2CAP).(*L2CAP)
	if !ok {
		if el := inner.ErrorLayer(); el != nil {
			rec.Error = el.Error().Error()
		}
		return pdu, nil
	}

	psm := d.asm.PSM(handle, f.Direction, l.CID)
	rec.L2CAP = &models.L2CAPInfo{CID: l.CID, Length: int(l.Length), PSM: psm}
	if psm != 0 {
		rec.L2CAP.Service = analysis.GetServiceName(psm)
	} else {
		rec.L2CAP.Service = analysis.GetChannelName(l.CID)
	}

	rest := l.Payload
	var payloads []models.Payload

	switch {
	case l.CID == CIDSignaling:
		d.asm.Signal(handle, f.Direction, l.Payload)

	case psm == PSMATT:
		att, ok := inner.Layer(LayerTypeATT).(*ATT)
		if !ok {
			// ATT over a BR/EDR dynamic channel is not reached by L2CAP's
			// fixed-channel dispatch.
			att, ok = gopacket.NewPacket(l.Payload, LayerTypeATT, gopacket.NoCopy).Layer(LayerTypeATT).(*ATT)
		}
		if !ok {
			break
		}
		rec.ATT = &models.ATTInfo{Opcode: att.Opcode, Name: ATTName(att.Opcode)}
		if att.HasHandle {
			h := att.Handle
			rec.ATT.Handle = &h
		}
		rest = att.Payload
		if att.CarriesValue() && len(att.Payload) > 0 {
			payloads = append(payloads, models.Payload{Frame: f.Number, Direction: f.Direction, Channel: "att", Data: att.Payload})
		}

	case psm == PSMRFCOMM:
		rp := gopacket.NewPacket(l.Payload, LayerTypeRFCOMM, gopacket.NoCopy)
		rf, ok := rp.Layer(LayerTypeRFCOMM).(*RFCOMM)
		if !ok {
			if el := rp.ErrorLayer(); el != nil {
				rec.Error = el.Error().Error()
			}
			break
		}
		rec.RFCOMM = &models.RFCOMMInfo{DLCI: rf.DLCI, Control: rf.Control, Length: int(rf.Length)}
		if rf.HasCredits {
			c := rf.Credits
			rec.RFCOMM.Credits = &c
		}
		rest = rf.Payload
		if rf.UserData() && len(rf.Payload) > 0 {
			payloads = append(payloads, models.Payload{Frame: f.Number, Direction: f.Direction, Channel: "rfcomm", Data: rf.Payload})
		}
	}

	if el := inner.ErrorLayer(); el != nil && rec.Error == "" {
		rec.Error = el.Error().Error()
	}
	return rest, payloads
}
