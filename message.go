package rudp

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Delivery selects the per-message guarantee a sender asks for. It is
// carried on the wire in the standard header and drives whether a message
// gets a sequence number, an arrangement header, and fragmentation.
type Delivery byte

const (
	// Unreliable is fire-and-forget: no ack, no ordering, no sequencing.
	// Dropped or reordered silently.
	Unreliable Delivery = iota

	// UnreliableSequenced is fire-and-forget but stamped with a per-stream
	// arrangement sequence; a message older than the newest seen on its
	// stream is dropped on arrival.
	UnreliableSequenced

	// ReliableUnordered is acked and retransmitted until acknowledged, but
	// delivered to the caller in arrival order.
	ReliableUnordered

	// ReliableOrdered is acked, retransmitted, and delivered to the caller
	// in the exact order it was sent on its stream, buffering
	// out-of-order arrivals until the gap closes.
	ReliableOrdered

	// ReliableSequenced is acked and retransmitted, but delivered only if
	// it is newer than the newest already delivered on its stream; older
	// late arrivals are dropped after being acked.
	ReliableSequenced
)

// String renders a Delivery the way log lines and tests expect it.
func (d Delivery) String() string {
	switch d {
	case Unreliable:
		return "Unreliable"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case ReliableUnordered:
		return "ReliableUnordered"
	case ReliableOrdered:
		return "ReliableOrdered"
	case ReliableSequenced:
		return "ReliableSequenced"
	default:
		return "Delivery(?)"
	}
}

// IsReliable reports whether this delivery kind is acked and retransmitted.
func (d Delivery) IsReliable() bool {
	return d == ReliableUnordered || d == ReliableOrdered || d == ReliableSequenced
}

// needsArrangement reports whether this delivery kind carries an
// arrangement header and passes through the ordering/sequencing arranger.
func (d Delivery) needsArrangement() bool {
	return d == UnreliableSequenced || d == ReliableOrdered || d == ReliableSequenced
}

// isOrdering reports whether the arrangement header for this delivery is
// interpreted by the ordering arranger (buffer-and-wait-for-gap) rather
// than the sequencing arranger (keep-only-newest).
func (d Delivery) isOrdering() bool {
	return d == ReliableOrdered
}

// DefaultStream is the stream ID substituted when a caller doesn't pick
// one: stream ids are a small integer in [0, 254], absent meaning 255.
const DefaultStream uint8 = 255

// MaxFragments is the largest number of fragments a single message can be
// split into; the wire format's total_fragments field is a single byte.
const MaxFragments = 255

// OutboundMessage is submitted by the caller through a Socket's outbound
// channel.
type OutboundMessage struct {
	Remote   net.Addr
	Stream   uint8
	Delivery Delivery
	Payload  []byte
}

// resolveStream substitutes DefaultStream for an absent variadic stream
// argument, the pattern the five constructors below share.
func resolveStream(stream []uint8) uint8 {
	if len(stream) == 0 {
		return DefaultStream
	}
	return stream[0]
}

// NewUnreliable builds a fire-and-forget message with no ack, ordering, or
// sequencing.
func NewUnreliable(remote net.Addr, payload []byte) OutboundMessage {
	return OutboundMessage{Remote: remote, Stream: DefaultStream, Delivery: Unreliable, Payload: payload}
}

// NewUnreliableSequenced builds a fire-and-forget message stamped with a
// per-stream arrangement sequence; stream defaults to DefaultStream if
// omitted.
func NewUnreliableSequenced(remote net.Addr, payload []byte, stream ...uint8) OutboundMessage {
	return OutboundMessage{Remote: remote, Stream: resolveStream(stream), Delivery: UnreliableSequenced, Payload: payload}
}

// NewReliableUnordered builds an acked, retransmitted message delivered in
// arrival order.
func NewReliableUnordered(remote net.Addr, payload []byte) OutboundMessage {
	return OutboundMessage{Remote: remote, Stream: DefaultStream, Delivery: ReliableUnordered, Payload: payload}
}

// NewReliableOrdered builds an acked, retransmitted message delivered in
// exact send order on its stream; stream defaults to DefaultStream if
// omitted.
func NewReliableOrdered(remote net.Addr, payload []byte, stream ...uint8) OutboundMessage {
	return OutboundMessage{Remote: remote, Stream: resolveStream(stream), Delivery: ReliableOrdered, Payload: payload}
}

// NewReliableSequenced builds an acked, retransmitted message delivered
// only if newer than the newest already delivered on its stream; stream
// defaults to DefaultStream if omitted.
func NewReliableSequenced(remote net.Addr, payload []byte, stream ...uint8) OutboundMessage {
	return OutboundMessage{Remote: remote, Stream: resolveStream(stream), Delivery: ReliableSequenced, Payload: payload}
}

// InboundMessage is delivered to the caller through a Socket's inbound
// event channel when a Delivery payload clears the arrangement stage.
type InboundMessage struct {
	Remote   net.Addr
	Stream   uint8
	Delivery Delivery
	Payload  []byte
}

// EventKind distinguishes the variants carried by Event.
type EventKind int

const (
	// EventMessage carries a delivered InboundMessage.
	EventMessage EventKind = iota
	// EventConnect fires once when a remote address transitions to Established.
	EventConnect
	// EventDisconnect fires when an Established connection is torn down
	// (idle timeout or exceeding the in-flight cap). Exceeding the in-flight
	// cap fires it even for a connection that never completed the handshake.
	EventDisconnect
	// EventTimeout fires when an Unestablished connection is torn down
	// before ever completing the handshake.
	EventTimeout
)

// String renders an EventKind for logging and tests.
func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "Message"
	case EventConnect:
		return "Connect"
	case EventDisconnect:
		return "Disconnect"
	case EventTimeout:
		return "Timeout"
	default:
		return "EventKind(?)"
	}
}

// Event is the single type delivered on a Socket's inbound channel. Only
// the fields relevant to Kind are populated: Message for EventMessage,
// RTT (the connection's smoothed RTT at teardown) for EventDisconnect,
// Remote/ConnID always.
type Event struct {
	Kind    EventKind
	Remote  net.Addr
	ConnID  uuid.UUID
	Message InboundMessage
	RTT     time.Duration
}
