package linux

import "encoding/binary"

type packetType uint8

// HCI Packet types
const (
	typCommandPkt packetType = 0x01
	typACLDataPkt            = 0x02
	typSCODataPkt            = 0x03
	typEventPkt              = 0x04
	typVendorPkt             = 0xFF
)

// Advertising Type
const (
	advInd        = 0x00 // Connectable undirected advertising (ADV_IND).
	advDirectInd  = 0x01 // Connectable directed advertising (ADV_DIRECT_IND)
	advScanInd    = 0x02 // Scannable undirected advertising (ADV_SCAN_IND)
	advNonconnInd = 0x03 // Non connectable undirected advertising (ADV_NONCONN_IND)
)

// Own Address Type
const (
	ownAddrPublic = 0x00
	ownAddrRandom = 0x01
)

// order is the HCI byte order. Device addresses travel least
// significant byte first.
type order struct{ binary.ByteOrder }

var o = order{binary.LittleEndian}

func (order) PutMAC(b []byte, m [6]byte) {
	for i := range m {
		b[i] = m[5-i]
	}
}

func (order) MAC(b []byte) [6]byte {
	var m [6]byte
	for i := range m {
		m[i] = b[5-i]
	}
	return m
}
