package models

import "time"

// Record is the JSON rendering of a frame produced by the native decoder.
// Protocol sections are only present when the frame carries that layer.
type Record struct {
	Frame     int       `json:"frame"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Kind      Kind      `json:"kind"`
	Length    int       `json:"length"`
	Captured  int       `json:"captured,omitempty"`
	Drops     uint32    `json:"drops,omitempty"`

	Command *CommandInfo `json:"command,omitempty"`
	Event   *EventInfo   `json:"event,omitempty"`
	ACL     *ACLInfo     `json:"acl,omitempty"`
	SCO     *SCOInfo     `json:"sco,omitempty"`
	ISO     *ISOInfo     `json:"iso,omitempty"`
	L2CAP   *L2CAPInfo   `json:"l2cap,omitempty"`
	ATT     *ATTInfo     `json:"att,omitempty"`
	RFCOMM  *RFCOMMInfo  `json:"rfcomm,omitempty"`

	// Payload is the hex encoding of the innermost undecoded bytes.
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CommandInfo struct {
	Opcode uint16 `json:"opcode"`
	OGF    uint8  `json:"ogf"`
	OCF    uint16 `json:"ocf"`
	Params int    `json:"params"`
}

type EventInfo struct {
	Code   uint8 `json:"code"`
	Params int   `json:"params"`
}

type ACLInfo struct {
	Handle    uint16 `json:"handle"`
	Boundary  uint8  `json:"pb"`
	Broadcast uint8  `json:"bc"`
	Length    int    `json:"length"`
	// Reassembled is set on the fragment that completed an L2CAP PDU.
	Reassembled bool `json:"reassembled,omitempty"`
}

type SCOInfo struct {
	Handle uint16 `json:"handle"`
	Length int    `json:"length"`
}

type ISOInfo struct {
	Handle   uint16 `json:"handle"`
	Boundary uint8  `json:"pb"`
	Length   int    `json:"length"`
}

type L2CAPInfo struct {
	CID     uint16 `json:"cid"`
	Length  int    `json:"length"`
	PSM     uint16 `json:"psm,omitempty"`
	Service string `json:"service,omitempty"`
}

type ATTInfo struct {
	Opcode uint8   `json:"opcode"`
	Name   string  `json:"name"`
	Handle *uint16 `json:"handle,omitempty"`
}

type RFCOMMInfo struct {
	DLCI    uint8  `json:"dlci"`
	Control uint8  `json:"control"`
	Length  int    `json:"length"`
	Credits *uint8 `json:"credits,omitempty"`
}
