package analysis

import "fmt"

var commonPSMs = map[uint16]string{
	0x0001: "SDP",
	0x0003: "RFCOMM",
	0x0005: "TCS-BIN",
	0x0007: "TCS-BIN-CORDLESS",
	0x000F: "BNEP",
	0x0011: "HID-Control",
	0x0013: "HID-Interrupt",
	0x0015: "UPnP",
	0x0017: "AVCTP",
	0x0019: "AVDTP",
	0x001B: "AVCTP-Browsing",
	0x001D: "UDI-C-Plane",
	0x001F: "ATT",
	0x0021: "3DSP",
	0x0023: "IPSP",
	0x0025: "OTS",
	0x0027: "EATT",
}

var fixedChannels = map[uint16]string{
	0x0001: "L2CAP-Signaling",
	0x0002: "Connectionless",
	0x0003: "AMP-Manager",
	0x0004: "ATT",
	0x0005: "LE-Signaling",
	0x0006: "SMP",
	0x0007: "BR/EDR-SMP",
}

// GetServiceName returns the common name for a PSM, or the PSM in hex.
func GetServiceName(psm uint16) string {
	if name, ok := commonPSMs[psm]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", psm)
}

// GetChannelName names fixed L2CAP channels. Dynamic channels without a
// known PSM are reported as "dynamic".
func GetChannelName(cid uint16) string {
	if name, ok := fixedChannels[cid]; ok {
		return name
	}
	if cid >= 0x0040 {
		return "dynamic"
	}
	return fmt.Sprintf("0x%04x", cid)
}
