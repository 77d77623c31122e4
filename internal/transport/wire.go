package transport

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	packetAuth       = 0x01
	packetAudio      = 0x02
	packetAuthAck    = 0x03
	packetDisconnect = 0x04

	// type byte plus client id
	audioHeader = 1 + 16
)

func authPacket(id uuid.UUID, username string) []byte {
	name := []byte(username)
	pkt := make([]byte, 1+16+4+len(name))
	pkt[0] = packetAuth
	copy(pkt[1:17], id[:])
	binary.BigEndian.PutUint32(pkt[17:21], uint32(len(name)))
	copy(pkt[21:], name)
	return pkt
}

func disconnectPacket(id uuid.UUID) []byte {
	pkt := make([]byte, 17)
	pkt[0] = packetDisconnect
	copy(pkt[1:17], id[:])
	return pkt
}

// parseAuthAck decodes {0x03, id[16], accepted u8, len u16, message}.
func parseAuthAck(data []byte) (id uuid.UUID, accepted bool, message string, ok bool) {
	if len(data) < 20 || data[0] != packetAuthAck {
		return uuid.UUID{}, false, "", false
	}
	id, err := uuid.FromBytes(data[1:17])
	if err != nil {
		return uuid.UUID{}, false, "", false
	}
	n := int(binary.BigEndian.Uint16(data[18:20]))
	if 20+n > len(data) {
		return uuid.UUID{}, false, "", false
	}
	return id, data[17] == 1, string(data[20 : 20+n]), true
}
