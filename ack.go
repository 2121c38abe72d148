package rudp

import "time"

// sentBufferSize is the fixed size of the outstanding-reliable-packet ring.
// Config.MaxPacketsInFlight must be <= this (enforced by Config.validate)
// so the in-flight cap trips before the ring fills, and trackEntry refuses
// a send whose slot still holds an unacked entry, so the ring never wraps
// onto an unacked entry.
const sentBufferSize = 1024

// sentEntry is one outstanding reliable send: enough to rebuild the
// datagram with a fresh ack header when it needs resending, including the
// optional fragment/arrangement headers this wire format carries.
type sentEntry struct {
	occupied  bool
	acked     bool
	heartbeat bool
	seq       uint16
	sendTime  time.Time
	retries   int
	delivery  Delivery
	fragment  *fragmentHeader
	arrange   *arrangementHeader
	payload   []byte
}

// ackState is the per-connection acknowledgement engine: outbound sequence
// assignment and the sent-buffer ring on one side, inbound duplicate
// suppression and ack-bitfield construction on the other, built on a fixed
// ring-and-bitfield scheme.
type ackState struct {
	localSeq uint16
	sent     [sentBufferSize]sentEntry
	inFlight int

	haveRemoteSeq  bool
	remoteSeq      uint16
	remoteBitfield uint32
}

// nextSeq assigns and returns the next outbound sequence number.
func (a *ackState) nextSeq() uint16 {
	seq := a.localSeq
	a.localSeq++
	return seq
}

// noRemoteAckSeq is the LastAck value used while nothing has been received
// from the peer yet. It must not land on a sequence number the peer could
// plausibly still have outstanding, so that this connection's first
// outbound packet never falsely acknowledges the peer's own seq 0 on a
// simultaneous open; reaching it legitimately would require 65536 unacked
// sends, far past any max_packets_in_flight cap.
const noRemoteAckSeq uint16 = 0xFFFF

// buildAckHeader returns the ack header to attach to an outbound reliable
// packet carrying the given sequence number. Until something has actually
// been received from the peer, it carries the noRemoteAckSeq sentinel
// instead of the zero-valued {remoteSeq, remoteBitfield} defaults, so it
// never claims to have received a packet that was never seen.
func (a *ackState) buildAckHeader(seq uint16) ackHeader {
	if !a.haveRemoteSeq {
		return ackHeader{Seq: seq, LastAck: noRemoteAckSeq, AckBitfield: 0}
	}
	return ackHeader{Seq: seq, LastAck: a.remoteSeq, AckBitfield: a.remoteBitfield}
}

// track records a freshly sent reliable packet in the ring. It returns
// ErrExceededInFlight when doing so would push the connection's
// outstanding-unacked count past max, or when the packet's ring slot still
// holds an unacked entry.
func (a *ackState) track(seq uint16, now time.Time, delivery Delivery, fragment *fragmentHeader, arrange *arrangementHeader, payload []byte, max int) error {
	return a.trackEntry(seq, now, delivery, fragment, arrange, payload, false, max)
}

// trackHeartbeat records a sent heartbeat in the ring exactly like a
// reliable send, so encodeResend can tell a resent heartbeat apart from a
// resent zero-payload data message and the receiver never surfaces it as a
// user-deliverable InboundMessage.
func (a *ackState) trackHeartbeat(seq uint16, now time.Time, max int) error {
	return a.trackEntry(seq, now, ReliableUnordered, nil, nil, nil, true, max)
}

func (a *ackState) trackEntry(seq uint16, now time.Time, delivery Delivery, fragment *fragmentHeader, arrange *arrangementHeader, payload []byte, heartbeat bool, max int) error {
	if a.inFlight >= max {
		return ErrExceededInFlight
	}
	slot := &a.sent[seq%sentBufferSize]
	if slot.occupied {
		return ErrExceededInFlight
	}
	*slot = sentEntry{
		occupied:  true,
		heartbeat: heartbeat,
		seq:       seq,
		sendTime:  now,
		delivery:  delivery,
		fragment:  fragment,
		arrange:   arrange,
		payload:   payload,
	}
	a.inFlight++
	return nil
}

// observeIncoming updates the receive-side duplicate-suppression and
// ack-construction state for an incoming reliable packet's own sequence
// number, and reports whether this packet is a duplicate (already seen) and
// should have its payload dropped even though its ack info is still
// processed. A packet more than 32 behind the newest seen lies outside the
// bitfield's window and is reported as a duplicate too.
func (a *ackState) observeIncoming(seq uint16) (duplicate bool) {
	if !a.haveRemoteSeq {
		a.haveRemoteSeq = true
		a.remoteSeq = seq
		a.remoteBitfield = 0
		return false
	}

	diff := seqDistance(seq, a.remoteSeq)
	switch {
	case diff == 0:
		return true
	case diff > 0:
		shift := uint(diff)
		if shift >= 32 {
			a.remoteBitfield = 0
		} else {
			a.remoteBitfield = (a.remoteBitfield << shift) | (1 << (shift - 1))
		}
		a.remoteSeq = seq
		return false
	default:
		back := uint(-diff)
		if back > 32 {
			return true
		}
		bit := uint32(1) << (back - 1)
		if a.remoteBitfield&bit != 0 {
			return true
		}
		a.remoteBitfield |= bit
		return false
	}
}

// ackResult describes one sent-buffer entry that processAck newly marked
// acknowledged, for RTT sampling by the caller.
type ackResult struct {
	seq  uint16
	rtt  time.Duration
}

// processAck applies an incoming ack header's LastAck/AckBitfield against
// the sent buffer, freeing every matching unacked entry and reporting its
// measured round trip.
func (a *ackState) processAck(h ackHeader, now time.Time) []ackResult {
	var results []ackResult
	tryAck := func(seq uint16) {
		slot := &a.sent[seq%sentBufferSize]
		if !slot.occupied || slot.acked || slot.seq != seq {
			return
		}
		slot.acked = true
		a.inFlight--
		results = append(results, ackResult{seq: seq, rtt: now.Sub(slot.sendTime)})
		*slot = sentEntry{}
	}

	tryAck(h.LastAck)
	for i := 0; i < 32; i++ {
		if h.AckBitfield&(1<<uint(i)) != 0 {
			tryAck(h.LastAck - uint16(i+1))
		}
	}
	return results
}

// pendingResend is one sent-buffer entry sweepResend has decided is due for
// retransmission; the caller re-encodes it with a fresh ack header.
type pendingResend struct {
	seq       uint16
	delivery  Delivery
	fragment  *fragmentHeader
	arrange   *arrangementHeader
	payload   []byte
	heartbeat bool
}

// sweepResend scans the sent buffer for unacked entries older than after,
// bumping their send time to now and returning the ones that need
// retransmitting. Called on every dispatcher tick, making retransmit
// scanning tick-driven rather than timer-per-packet.
func (a *ackState) sweepResend(now time.Time, after time.Duration) []pendingResend {
	var due []pendingResend
	for i := range a.sent {
		slot := &a.sent[i]
		if !slot.occupied || slot.acked {
			continue
		}
		if now.Sub(slot.sendTime) < after {
			continue
		}
		slot.sendTime = now
		slot.retries++
		due = append(due, pendingResend{
			seq:       slot.seq,
			delivery:  slot.delivery,
			fragment:  slot.fragment,
			arrange:   slot.arrange,
			payload:   slot.payload,
			heartbeat: slot.heartbeat,
		})
	}
	return due
}
