package network

import (
	"encoding/binary"
)

// ScreamSender prepends a 5-byte header to each chunk and sends it as
// one UDP datagram (spec.md §4.6). Header layout:
//
//	byte 0: sample-rate flag (khz, high bit set for the 48kHz family)
//	byte 1: bit depth
//	byte 2: channel count
//	byte 3: channel layout, low byte
//	byte 4: channel layout, high byte
type ScreamSender struct {
	udpTransport

	sampleRate    int
	bitDepth      int
	channels      int
	channelLayout uint16

	headerBuf []byte
}

// NewScreamSender dials outputIP:outputPort and constructs a sender
// fixed to the given stream shape for its lifetime.
func NewScreamSender(outputIP string, outputPort, sampleRate, bitDepth, channels int, channelLayout uint16) (*ScreamSender, error) {
	conn, err := dialUDP(outputIP, outputPort)
	if err != nil {
		return nil, err
	}
	return &ScreamSender{
		udpTransport:  udpTransport{conn: conn},
		sampleRate:    sampleRate,
		bitDepth:      bitDepth,
		channels:      channels,
		channelLayout: channelLayout,
		headerBuf:     make([]byte, 5),
	}, nil
}

// sampleRateFlag implements the Scream sample-rate encoding of
// spec.md §6: "high bit flags 48k-multiple; low 7 bits = rate/1000 (or
// /1.1025 for 44.1k family)".
func sampleRateFlag(rate int) byte {
	if rate%48000 == 0 {
		khz := rate / 1000
		if khz > 127 {
			khz = 127
		}
		return 0x80 | byte(khz)
	}
	v := int(float64(rate)/1000.0/1.1025 + 0.5)
	if v > 127 {
		v = 127
	}
	return byte(v)
}

// Send writes one Scream-framed datagram. rtpTimestamp and marker are
// accepted to satisfy the common Sender contract but are not part of
// the Scream wire format, which carries no timing fields of its own.
func (s *ScreamSender) Send(chunk []int32, sampleCount int, _ uint32, _ bool) error {
	s.headerBuf[0] = sampleRateFlag(s.sampleRate)
	s.headerBuf[1] = byte(s.bitDepth)
	s.headerBuf[2] = byte(s.channels)
	binary.LittleEndian.PutUint16(s.headerBuf[3:5], s.channelLayout)

	payload := encodeScreamPCM(chunk[:sampleCount*s.channels], s.bitDepth)
	datagram := make([]byte, 0, len(s.headerBuf)+len(payload))
	datagram = append(datagram, s.headerBuf...)
	datagram = append(datagram, payload...)
	return s.writeDatagram(datagram)
}

// Stop releases the underlying socket.
func (s *ScreamSender) Stop() { s.close() }

// encodeScreamPCM packs full-scale int32 samples down to the wire bit
// depth, little-endian, matching the header's advertised bit_depth.
func encodeScreamPCM(samples []int32, bitDepth int) []byte {
	switch bitDepth {
	case 16:
		out := make([]byte, len(samples)*2)
		for i, v := range samples {
			v16 := int16(v >> 16)
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v16))
		}
		return out
	case 24:
		out := make([]byte, len(samples)*3)
		for i, v := range samples {
			v24 := v >> 8
			out[i*3+0] = byte(v24)
			out[i*3+1] = byte(v24 >> 8)
			out[i*3+2] = byte(v24 >> 16)
		}
		return out
	default: // 32
		out := make([]byte, len(samples)*4)
		for i, v := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out
	}
}
