package network

import (
	"encoding/binary"
	"math/rand/v2"
)

const (
	rtpVersion      = 2
	rtpHeaderLength = 12

	// PayloadTypePCM is the dynamic payload type used for raw PCM
	// chunks (spec.md §4.6: "PCM dynamic PT").
	PayloadTypePCM = 97
	// PayloadTypeMP3 is used when the sink is MP3-encoded.
	PayloadTypeMP3 = 14
)

// RTPSender maintains a per-session SSRC and monotonically increasing
// sequence number, deriving RTP timestamps from the sink's sample
// clock (spec.md §4.6).
type RTPSender struct {
	udpTransport

	ssrc        uint32
	sequence    uint16
	payloadType byte

	bitDepth int
	channels int
}

// NewRTPSender dials outputIP:outputPort. payloadType should be
// PayloadTypePCM or PayloadTypeMP3 depending on the sink's encoding.
func NewRTPSender(outputIP string, outputPort int, payloadType byte, bitDepth, channels int) (*RTPSender, error) {
	conn, err := dialUDP(outputIP, outputPort)
	if err != nil {
		return nil, err
	}
	return &RTPSender{
		udpTransport: udpTransport{conn: conn},
		ssrc:         rand.Uint32(),
		sequence:     uint16(rand.Uint32()),
		payloadType:  payloadType,
		bitDepth:     bitDepth,
		channels:     channels,
	}, nil
}

// Send writes one RTP packet carrying chunk as its payload. marker
// should be set by the caller on the first chunk after silence or a
// format change (spec.md §4.6).
func (s *RTPSender) Send(chunk []int32, sampleCount int, rtpTimestamp uint32, marker bool) error {
	header := make([]byte, rtpHeaderLength)
	header[0] = rtpVersion << 6
	markerBit := byte(0)
	if marker {
		markerBit = 0x80
	}
	header[1] = markerBit | (s.payloadType & 0x7f)
	binary.BigEndian.PutUint16(header[2:4], s.sequence)
	binary.BigEndian.PutUint32(header[4:8], rtpTimestamp)
	binary.BigEndian.PutUint32(header[8:12], s.ssrc)
	s.sequence++

	payload := encodeScreamPCM(chunk[:sampleCount*s.channels], s.bitDepth)
	datagram := make([]byte, 0, len(header)+len(payload))
	datagram = append(datagram, header...)
	datagram = append(datagram, payload...)
	return s.writeDatagram(datagram)
}

// Stop releases the underlying socket.
func (s *RTPSender) Stop() { s.close() }
