package rudp

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// connState is a virtual connection's place in its lifecycle: Fresh ->
// Unestablished -> Established -> Disconnected. Fresh is not a stored
// state: a virtualConn is constructed already Unestablished, the instant
// its first datagram (inbound or outbound) is seen.
type connState int

const (
	connUnestablished connState = iota
	connEstablished
)

// virtualConn holds one remote peer's reliability, fragmentation, and
// arrangement state, since a single dispatcher multiplexes many peers over
// one socket. Each incarnation gets its own uuid.UUID so Connect/
// Disconnect/Timeout events and log lines stay correlated across an
// address reuse.
type virtualConn struct {
	id     uuid.UUID
	remote net.Addr
	logger Logger

	ack     ackState
	rtt     rttEstimator
	frag    *fragmentReassembly
	arrange *arrangeTable

	state         connState
	hasSent       bool
	hasReceived   bool
	firstSeen     time.Time
	lastSend      time.Time
	lastRecv      time.Time
	establishedAt time.Time
}

func newVirtualConn(remote net.Addr, cfg *Config, logger Logger, now time.Time) *virtualConn {
	return &virtualConn{
		id:        uuid.New(),
		remote:    remote,
		logger:    logger,
		rtt:       newRTTEstimator(cfg.RTTSmoothingFactor, cfg.rttMax()),
		frag:      newFragmentReassembly(),
		arrange:   newArrangeTable(),
		firstSeen: now,
	}
}

// markSent records outbound traffic and returns true the instant this
// traffic completes the handshake (the peer had already been heard from).
func (c *virtualConn) markSent(now time.Time) (justEstablished bool) {
	c.hasSent = true
	c.lastSend = now
	return c.maybeEstablish(now)
}

// markReceived records inbound traffic and returns true the instant this
// traffic completes the handshake (we had already sent to the peer).
func (c *virtualConn) markReceived(now time.Time) (justEstablished bool) {
	c.hasReceived = true
	c.lastRecv = now
	return c.maybeEstablish(now)
}

func (c *virtualConn) maybeEstablish(now time.Time) bool {
	if c.state == connEstablished || !c.hasSent || !c.hasReceived {
		return false
	}
	c.state = connEstablished
	c.establishedAt = now
	return true
}

// isEstablished reports whether both directions of traffic have been seen.
func (c *virtualConn) isEstablished() bool {
	return c.state == connEstablished
}

// outgoingPacket is one encoded datagram this connection wants sent, plus
// the bookkeeping buildDatagrams already performed on the ack ring (so the
// caller only needs to write the bytes).
type outgoingPacket struct {
	bytes []byte
}

// buildDatagrams encodes one outbound message, splitting it into multiple
// fragment datagrams when it exceeds chunkSize and its delivery allows
// fragmentation (reliable only). Reliable datagrams are tracked in the ack
// ring as they're built so a later resend sweep can retransmit them; a
// fragmented message is tracked once, under its group sequence with
// fragment 0's datagram, so only fragment 0 is ever retransmitted.
func (c *virtualConn) buildDatagrams(pid uint32, stream uint8, d Delivery, payload []byte, chunkSize, maxInFlight int, now time.Time) ([]outgoingPacket, error) {
	var arrange *arrangementHeader
	if d.needsArrangement() {
		arrange = &arrangementHeader{
			ArrangementSeq: c.arrange.nextOutbound(stream, d),
			StreamID:       stream,
		}
	}

	if len(payload) <= chunkSize {
		return c.buildSingleDatagram(pid, d, arrange, payload, maxInFlight, now)
	}

	if !d.IsReliable() {
		return nil, ErrUnreliableTooLarge
	}

	chunks, err := splitPayload(payload, chunkSize)
	if err != nil {
		return nil, err
	}
	groupSeq := c.ack.nextSeq()
	out := make([]outgoingPacket, 0, len(chunks))
	for i, chunk := range chunks {
		fh := fragmentHeader{GroupSeq: groupSeq, FragmentID: uint8(i), TotalFragments: uint8(len(chunks))}
		var pkt []byte
		pkt = encodeStandardHeader(pkt, pid, kindDataFragment, d)
		pkt = encodeFragmentHeader(pkt, fh)
		if i == 0 {
			pkt = encodeAckHeader(pkt, c.ack.buildAckHeader(groupSeq))
			if arrange != nil {
				pkt = encodeArrangementHeader(pkt, *arrange)
			}
		}
		pkt = append(pkt, chunk...)

		if i == 0 {
			if err := c.ack.track(groupSeq, now, d, &fh, arrange, append([]byte(nil), chunk...), maxInFlight); err != nil {
				return nil, err
			}
		}
		out = append(out, outgoingPacket{bytes: pkt})
	}
	return out, nil
}

func (c *virtualConn) buildSingleDatagram(pid uint32, d Delivery, arrange *arrangementHeader, payload []byte, maxInFlight int, now time.Time) ([]outgoingPacket, error) {
	var pkt []byte
	if !d.IsReliable() {
		pkt = encodeStandardHeader(pkt, pid, kindData, d)
		if arrange != nil {
			pkt = encodeArrangementHeader(pkt, *arrange)
		}
		pkt = append(pkt, payload...)
		return []outgoingPacket{{bytes: pkt}}, nil
	}

	seq := c.ack.nextSeq()
	if err := c.ack.track(seq, now, d, nil, arrange, append([]byte(nil), payload...), maxInFlight); err != nil {
		return nil, err
	}
	pkt = encodeStandardHeader(pkt, pid, kindData, d)
	pkt = encodeAckHeader(pkt, c.ack.buildAckHeader(seq))
	if arrange != nil {
		pkt = encodeArrangementHeader(pkt, *arrange)
	}
	pkt = append(pkt, payload...)
	return []outgoingPacket{{bytes: pkt}}, nil
}

// buildHeartbeat encodes a zero-payload heartbeat datagram. It is tracked
// in the ack ring like any other reliable send: a heartbeat is the vehicle
// that keeps {remote_seq, remote_ack_bitfield} flowing back to the peer
// when the application has nothing of its own to send, which is what
// closes the ack loop for a connection that is otherwise one-directional.
func (c *virtualConn) buildHeartbeat(pid uint32, maxInFlight int, now time.Time) ([]byte, error) {
	seq := c.ack.nextSeq()
	if err := c.ack.trackHeartbeat(seq, now, maxInFlight); err != nil {
		return nil, err
	}
	var pkt []byte
	pkt = encodeStandardHeader(pkt, pid, kindHeartbeat, ReliableUnordered)
	pkt = encodeAckHeader(pkt, c.ack.buildAckHeader(seq))
	return pkt, nil
}

// ingestResult is what processing one inbound datagram produced: a
// delivered message (if any) and the RTT samples the ack engine measured.
type ingestResult struct {
	delivered []InboundMessage
	samples   []time.Duration
}

// ingest decodes one inbound datagram addressed to this connection,
// updating ack/fragment/arrangement state and returning anything ready for
// delivery to the caller.
func (c *virtualConn) ingest(data []byte, now time.Time) (ingestResult, error) {
	var res ingestResult

	std, rest, err := decodeStandardHeader(data)
	if err != nil {
		return res, err
	}
	if std.Kind == kindHeartbeat {
		ack, _, err := decodeAckHeader(rest)
		if err != nil {
			return res, err
		}
		c.ack.observeIncoming(ack.Seq)
		for _, r := range c.ack.processAck(ack, now) {
			res.samples = append(res.samples, r.rtt)
			c.rtt.Sample(r.rtt)
		}
		return res, nil
	}

	var fh *fragmentHeader
	if std.Kind == kindDataFragment {
		h, r, err := decodeFragmentHeader(rest)
		if err != nil {
			if errors.Is(err, ErrFragmentOversized) {
				delete(c.frag.groups, h.GroupSeq)
			}
			return res, err
		}
		fh = &h
		rest = r
	}

	reliable := std.Delivery.IsReliable()
	firstOfGroup := fh == nil || fh.FragmentID == 0
	var ack ackHeader
	haveAck := reliable && firstOfGroup
	if haveAck {
		ack, rest, err = decodeAckHeader(rest)
		if err != nil {
			return res, err
		}
	}

	var arrange *arrangementHeader
	if std.Delivery.needsArrangement() && firstOfGroup {
		ah, r, err := decodeArrangementHeader(rest)
		if err != nil {
			return res, err
		}
		rest = r
		arrange = &ah
	}

	var duplicate bool
	if haveAck {
		duplicate = c.ack.observeIncoming(ack.Seq)
		for _, r := range c.ack.processAck(ack, now) {
			res.samples = append(res.samples, r.rtt)
			c.rtt.Sample(r.rtt)
		}
	}
	if duplicate {
		return res, nil
	}

	if fh == nil {
		c.deliver(std.Delivery, arrange, rest, &res)
		return res, nil
	}

	var meta *fragGroup
	if firstOfGroup {
		meta = &fragGroup{delivery: std.Delivery, arrange: arrange}
	}
	payload, delivery, groupArrange, done, err := c.frag.ingest(*fh, now, meta, rest)
	if err != nil {
		return res, err
	}
	if done {
		c.deliver(delivery, groupArrange, payload, &res)
	}
	return res, nil
}

// deliver routes a fully-reassembled payload for the given delivery through
// the arrangement stage (if any) and appends whatever comes out to res.
func (c *virtualConn) deliver(d Delivery, arrange *arrangementHeader, payload []byte, res *ingestResult) {
	if !d.needsArrangement() {
		res.delivered = append(res.delivered, InboundMessage{Remote: c.remote, Delivery: d, Payload: payload})
		return
	}
	stream := uint8(0)
	seq := uint16(0)
	if arrange != nil {
		stream = arrange.StreamID
		seq = arrange.ArrangementSeq
	}
	for _, p := range c.arrange.receive(stream, d, seq, payload) {
		res.delivered = append(res.delivered, InboundMessage{Remote: c.remote, Stream: stream, Delivery: d, Payload: p})
	}
}

// tickResult is what one on_tick pass produced: datagrams to send and,
// possibly, a decision to tear this connection down.
type tickResult struct {
	heartbeat []byte
	resends   [][]byte
	teardown  bool
	reason    teardownReason
}

// onTick runs one tick's worth of housekeeping for this connection:
// heartbeat emission, retransmit sweep, fragment-group eviction, and the
// idle/in-flight/unestablished teardown checks. It never removes the
// connection itself; the caller
// (connTable via Socket) does that once it sees tickResult.teardown, after
// reading isEstablished() to decide between a Disconnect and a Timeout
// event.
func (c *virtualConn) onTick(pid uint32, cfg *Config, now time.Time) tickResult {
	var res tickResult

	if c.isEstablished() && cfg.HeartbeatInterval > 0 && now.Sub(c.lastSend) > cfg.HeartbeatInterval {
		hb, err := c.buildHeartbeat(pid, cfg.MaxPacketsInFlight, now)
		if err == nil {
			res.heartbeat = hb
			c.lastSend = now
		}
	}

	resendAfter := c.rtt.Smoothed(cfg.ResendFloor)
	if resendAfter < cfg.ResendFloor {
		resendAfter = cfg.ResendFloor
	}
	for _, p := range c.ack.sweepResend(now, resendAfter) {
		res.resends = append(res.resends, c.encodeResend(pid, p))
	}

	c.frag.sweepExpired(now, cfg.FragmentReassemblyTimeout)

	if c.ack.inFlight > cfg.MaxPacketsInFlight {
		res.teardown = true
		res.reason = teardownInFlight
		return res
	}

	if c.isEstablished() {
		if now.Sub(c.lastRecv) > cfg.IdleConnectionTimeout {
			res.teardown = true
			res.reason = teardownIdle
		}
	} else if now.Sub(c.firstSeen) > cfg.UnestablishedConnectionTimeout {
		res.teardown = true
	}
	return res
}

// encodeResend rebuilds a sent-buffer entry's datagram with a fresh ack
// header reflecting this connection's current receive state.
func (c *virtualConn) encodeResend(pid uint32, p pendingResend) []byte {
	var pkt []byte
	if p.heartbeat {
		pkt = encodeStandardHeader(pkt, pid, kindHeartbeat, ReliableUnordered)
		pkt = encodeAckHeader(pkt, c.ack.buildAckHeader(p.seq))
		return pkt
	}
	if p.fragment != nil {
		pkt = encodeStandardHeader(pkt, pid, kindDataFragment, p.delivery)
		pkt = encodeFragmentHeader(pkt, *p.fragment)
		pkt = encodeAckHeader(pkt, c.ack.buildAckHeader(p.seq))
		if p.arrange != nil {
			pkt = encodeArrangementHeader(pkt, *p.arrange)
		}
		return append(pkt, p.payload...)
	}
	pkt = encodeStandardHeader(pkt, pid, kindData, p.delivery)
	pkt = encodeAckHeader(pkt, c.ack.buildAckHeader(p.seq))
	if p.arrange != nil {
		pkt = encodeArrangementHeader(pkt, *p.arrange)
	}
	return append(pkt, p.payload...)
}

// teardownReason names why a connection was removed, for the Event log
// line the dispatcher emits alongside EventDisconnect/EventTimeout.
type teardownReason int

const (
	teardownIdle teardownReason = iota
	teardownInFlight
)

func (r teardownReason) String() string {
	switch r {
	case teardownIdle:
		return "idle timeout"
	case teardownInFlight:
		return "exceeded max packets in flight"
	default:
		return fmt.Sprintf("teardownReason(%d)", int(r))
	}
}
