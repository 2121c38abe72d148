package rudp

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// packetKind selects whether a datagram carries a user payload or is a bare
// heartbeat used to keep a connection's liveness timers fresh and its ack
// state flowing back to the peer when nothing else is queued to send.
// Which of the optional headers (ack/fragment/arrangement) follow the
// standard header is derived from Delivery, except that kindHeartbeat
// always carries exactly an ack header and kindDataFragment puts a fragment
// header first.
type packetKind byte

const (
	// kindData is a plain (possibly reliable) message: standard header,
	// then an ack header if Delivery.IsReliable(), then an arrangement
	// header if Delivery.needsArrangement(), then payload.
	kindData packetKind = 0
	// kindDataFragment is one fragment of a reliable message: standard
	// header, then a fragment header, then - only on fragment 0 - an ack
	// header and (if Delivery.needsArrangement()) an arrangement header,
	// then the fragment's payload chunk. Putting the fragment header
	// immediately after the standard header lets the receiver learn
	// FragmentID before deciding whether the optional headers that follow
	// are present, without needing out-of-band framing.
	kindDataFragment packetKind = 1
	// kindHeartbeat is standard header + ack header, no payload. It rides
	// the same sent-buffer/ack-ring machinery as a zero-payload
	// ReliableUnordered message, which is what lets a connection that is
	// otherwise only receiving data still deliver acks back to its peer.
	kindHeartbeat packetKind = 2
)

// standardHeaderSize is protocol_id(4) + packet_kind(1) + delivery(1).
const standardHeaderSize = 6

const ackHeaderSize = 8        // seq(2) + last_ack(2) + ack_bitfield(4)
const fragmentHeaderSize = 4   // group_seq(2) + fragment_id(1) + total_fragments(1)
const arrangementHeaderSize = 3 // arrangement_seq(2) + stream_id(1)

// protocolID hashes a human-readable protocol name into the 32-bit value
// carried by every datagram's standard header, so two rudp sockets running
// different incompatible versions on the same port range don't exchange
// garbage. No library in the retrieved pack wraps a non-cryptographic
// string hash for this; hash/fnv is the standard library's own answer to
// exactly this problem, so it is used directly rather than pulled in as a
// dependency.
func protocolID(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

func encodeStandardHeader(buf []byte, pid uint32, kind packetKind, delivery Delivery) []byte {
	buf = append(buf, 0, 0, 0, 0, byte(kind), byte(delivery))
	binary.BigEndian.PutUint32(buf[len(buf)-6:], pid)
	return buf
}

type standardHeader struct {
	ProtocolID uint32
	Kind       packetKind
	Delivery   Delivery
}

func decodeStandardHeader(data []byte) (standardHeader, []byte, error) {
	if len(data) < standardHeaderSize {
		return standardHeader{}, nil, fmt.Errorf("standard header truncated: %w", ErrMalformedHeader)
	}
	h := standardHeader{
		ProtocolID: binary.BigEndian.Uint32(data[0:4]),
		Kind:       packetKind(data[4]),
		Delivery:   Delivery(data[5]),
	}
	if h.Delivery > ReliableSequenced {
		return standardHeader{}, nil, fmt.Errorf("unknown delivery %d: %w", h.Delivery, ErrMalformedHeader)
	}
	return h, data[standardHeaderSize:], nil
}

type ackHeader struct {
	Seq         uint16
	LastAck     uint16
	AckBitfield uint32
}

func encodeAckHeader(buf []byte, h ackHeader) []byte {
	var tmp [ackHeaderSize]byte
	binary.BigEndian.PutUint16(tmp[0:2], h.Seq)
	binary.BigEndian.PutUint16(tmp[2:4], h.LastAck)
	binary.BigEndian.PutUint32(tmp[4:8], h.AckBitfield)
	return append(buf, tmp[:]...)
}

func decodeAckHeader(data []byte) (ackHeader, []byte, error) {
	if len(data) < ackHeaderSize {
		return ackHeader{}, nil, fmt.Errorf("ack header truncated: %w", ErrMalformedHeader)
	}
	h := ackHeader{
		Seq:         binary.BigEndian.Uint16(data[0:2]),
		LastAck:     binary.BigEndian.Uint16(data[2:4]),
		AckBitfield: binary.BigEndian.Uint32(data[4:8]),
	}
	return h, data[ackHeaderSize:], nil
}

type fragmentHeader struct {
	GroupSeq       uint16
	FragmentID     uint8
	TotalFragments uint8
}

func encodeFragmentHeader(buf []byte, h fragmentHeader) []byte {
	var tmp [fragmentHeaderSize]byte
	binary.BigEndian.PutUint16(tmp[0:2], h.GroupSeq)
	tmp[2] = h.FragmentID
	tmp[3] = h.TotalFragments
	return append(buf, tmp[:]...)
}

// decodeFragmentHeader reads a fragment header. When fragment_id or
// total_fragments is out of range, the decoded header is still returned
// alongside the error so the caller can discard that fragment's group.
func decodeFragmentHeader(data []byte) (fragmentHeader, []byte, error) {
	if len(data) < fragmentHeaderSize {
		return fragmentHeader{}, nil, fmt.Errorf("fragment header truncated: %w", ErrMalformedHeader)
	}
	h := fragmentHeader{
		GroupSeq:       binary.BigEndian.Uint16(data[0:2]),
		FragmentID:     data[2],
		TotalFragments: data[3],
	}
	if h.TotalFragments == 0 || h.FragmentID >= h.TotalFragments {
		return h, nil, fmt.Errorf("fragment %d/%d out of range: %w", h.FragmentID, h.TotalFragments, ErrFragmentOversized)
	}
	return h, data[fragmentHeaderSize:], nil
}

type arrangementHeader struct {
	ArrangementSeq uint16
	StreamID       uint8
}

func encodeArrangementHeader(buf []byte, h arrangementHeader) []byte {
	var tmp [arrangementHeaderSize]byte
	binary.BigEndian.PutUint16(tmp[0:2], h.ArrangementSeq)
	tmp[2] = h.StreamID
	return append(buf, tmp[:]...)
}

func decodeArrangementHeader(data []byte) (arrangementHeader, []byte, error) {
	if len(data) < arrangementHeaderSize {
		return arrangementHeader{}, nil, fmt.Errorf("arrangement header truncated: %w", ErrMalformedHeader)
	}
	h := arrangementHeader{
		ArrangementSeq: binary.BigEndian.Uint16(data[0:2]),
		StreamID:       data[2],
	}
	return h, data[arrangementHeaderSize:], nil
}

// seqGreater reports whether a is strictly newer than b under 16-bit
// wraparound arithmetic, using the sign of the 16-bit difference. Every
// sequence space in this package (ack seq, arrangement seq) uses this same
// comparison, so wraparound behaves identically everywhere a "newer than"
// check is needed.
func seqGreater(a, b uint16) bool {
	return int16(a-b) > 0 //nolint:gosec // intentional wraparound comparison
}

// seqDistance returns the signed distance from b to a (a-b) as a 16-bit
// wraparound difference.
func seqDistance(a, b uint16) int16 {
	return int16(a - b)
}
