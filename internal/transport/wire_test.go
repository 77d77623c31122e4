package transport

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// authAckPacket is what the server sends in reply to authPacket.
func authAckPacket(id uuid.UUID, accepted bool, message string) []byte {
	msg := []byte(message)
	pkt := make([]byte, 20+len(msg))
	pkt[0] = packetAuthAck
	copy(pkt[1:17], id[:])
	if accepted {
		pkt[17] = 1
	}
	binary.BigEndian.PutUint16(pkt[18:20], uint16(len(msg)))
	copy(pkt[20:], msg)
	return pkt
}

func TestAuthPacketLayout(t *testing.T) {
	id := uuid.New()
	pkt := authPacket(id, "alice")

	require.Len(t, pkt, 1+16+4+5)
	assert.Equal(t, byte(packetAuth), pkt[0])
	assert.Equal(t, id[:], pkt[1:17])
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(pkt[17:21]))
	assert.Equal(t, "alice", string(pkt[21:]))
}

func TestDisconnectPacketLayout(t *testing.T) {
	id := uuid.New()
	pkt := disconnectPacket(id)
	require.Len(t, pkt, audioHeader)
	assert.Equal(t, byte(packetDisconnect), pkt[0])
	assert.Equal(t, id[:], pkt[1:17])
}

func TestParseAuthAck(t *testing.T) {
	id := uuid.New()

	got, accepted, msg, ok := parseAuthAck(authAckPacket(id, true, "welcome"))
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.True(t, accepted)
	assert.Equal(t, "welcome", msg)

	_, accepted, msg, ok = parseAuthAck(authAckPacket(id, false, "name taken"))
	require.True(t, ok)
	assert.False(t, accepted)
	assert.Equal(t, "name taken", msg)
}

func TestParseAuthAckRejectsMalformed(t *testing.T) {
	id := uuid.New()
	good := authAckPacket(id, true, "hello")

	truncated := good[:len(good)-2]
	wrongType := append([]byte(nil), good...)
	wrongType[0] = packetAudio

	for name, data := range map[string][]byte{
		"empty":         nil,
		"short header":  good[:10],
		"truncated msg": truncated,
		"wrong type":    wrongType,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, _, ok := parseAuthAck(data)
			assert.False(t, ok)
		})
	}
}
