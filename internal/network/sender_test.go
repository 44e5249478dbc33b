package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestScreamSenderWritesFiveByteHeader(t *testing.T) {
	listener, port := listenLoopback(t)
	s, err := NewScreamSender("127.0.0.1", port, 48000, 16, 2, 0x0003)
	require.NoError(t, err)
	defer s.Stop()

	chunk := make([]int32, 4)
	require.NoError(t, s.Send(chunk, 2, 0, false))

	buf := make([]byte, 256)
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := listener.Read(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 5)

	assert.Equal(t, byte(16), buf[1], "bit depth header byte")
	assert.Equal(t, byte(2), buf[2], "channel count header byte")
	assert.Equal(t, n, 5+4*2, "payload should be 16-bit encoded: 2 bytes per sample")
}

func TestRTPSenderSetsMarkerAndSequence(t *testing.T) {
	listener, port := listenLoopback(t)
	s, err := NewRTPSender("127.0.0.1", port, PayloadTypePCM, 16, 2)
	require.NoError(t, err)
	defer s.Stop()

	chunk := make([]int32, 4)
	require.NoError(t, s.Send(chunk, 2, 1000, true))

	buf := make([]byte, 256)
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := listener.Read(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, rtpHeaderLength)

	assert.Equal(t, byte(0x80|PayloadTypePCM), buf[1], "marker bit plus payload type")
	assert.Equal(t, byte(rtpVersion<<6), buf[0]&0xc0)

	require.NoError(t, s.Send(chunk, 2, 1002, false))
	buf2 := make([]byte, 256)
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = listener.Read(buf2)
	require.NoError(t, err)
	assert.NotEqual(t, buf[2:4], buf2[2:4], "sequence number should increment between packets")
	assert.Equal(t, byte(PayloadTypePCM), buf2[1], "marker bit should be clear on the second packet")
}
