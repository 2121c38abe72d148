package rudp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eapache/channels"
	"golang.org/x/sync/errgroup"
)

// packetConn is the slice of *net.UDPConn the dispatcher actually needs,
// kept as a small interface purely so tests can drive the dispatcher
// against an in-memory fake instead of a real kernel socket.
type packetConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// SocketStats is a point-in-time metrics snapshot across every connection
// on a socket. It is a plain accessor, not a Prometheus exporter: a
// caller's own metrics system reads it.
type SocketStats struct {
	PacketsSent          uint64
	PacketsReceived      uint64
	PacketsRetransmitted uint64
	PacketsDropped       uint64
	EstablishedConns     int
	UnestablishedConns   int
}

// Socket is the public facade: bind/bind_any/bind_blocking,
// outbound_sender/inbound_receiver, start_polling/manual_step. It owns the
// one datagram endpoint and the connection table exclusively, dispatching
// across many virtual connections multiplexed onto that single endpoint.
type Socket struct {
	pc     packetConn
	cfg    Config
	logger Logger
	pid    uint32
	conns  *connTable

	outbound   chan OutboundMessage
	inboundIn  channels.Channel
	inboundOut chan Event

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	statsMu sync.Mutex
	stats   SocketStats
}

// Bind opens a UDP socket on localAddr and returns a Socket ready to have
// StartPolling or ManualStep driven against it.
func Bind(localAddr string, cfg Config) (*Socket, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", localAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", localAddr, err)
	}
	return newSocket(conn, cfg), nil
}

// BindAny opens a UDP socket on an OS-assigned ephemeral port.
func BindAny(cfg Config) (*Socket, error) {
	return Bind("0.0.0.0:0", cfg)
}

// BindBlocking is Bind with Config.BlockingMode forced on: StartPolling's
// receive step blocks up to Config.ReceiveTimeout per iteration instead of
// returning immediately.
func BindBlocking(localAddr string, cfg Config) (*Socket, error) {
	cfg.BlockingMode = true
	return Bind(localAddr, cfg)
}

// newSocket wires a Socket around an already-bound packetConn. Exported
// indirectly through Bind/BindAny/BindBlocking for real sockets; used
// directly by tests against a fake packetConn.
func newSocket(pc packetConn, cfg Config) *Socket {
	logger := cfg.Logger
	if logger == nil {
		logger = NewDefaultLogger("rudp")
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Socket{
		pc:         pc,
		cfg:        cfg,
		logger:     logger,
		pid:        protocolID(cfg.ProtocolVersion),
		conns:      newConnTable(cfg.MaxUnestablishedConnections),
		outbound:   make(chan OutboundMessage, cfg.SocketEventBufferSize),
		inboundIn:  channels.NewInfiniteChannel(),
		inboundOut: make(chan Event, cfg.SocketEventBufferSize),
		group:      group,
		ctx:        gctx,
		cancel:     cancel,
	}
}

// OutboundSender returns the send-side handle a caller submits
// OutboundMessages through.
func (s *Socket) OutboundSender() chan<- OutboundMessage {
	return s.outbound
}

// InboundReceiver returns the event-side handle a caller reads delivered
// messages and lifecycle events from.
func (s *Socket) InboundReceiver() <-chan Event {
	return s.inboundOut
}

// Stats returns a snapshot of this socket's counters.
func (s *Socket) Stats() SocketStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	stats := s.stats
	stats.EstablishedConns, stats.UnestablishedConns = s.conns.counts()
	return stats
}

// StartPolling drives the dispatcher loop until Close is called or the
// OutboundSender channel is closed, using errgroup.Group to coordinate the
// polling goroutine's exit with Close. The InboundReceiver channel is
// closed when it returns.
func (s *Socket) StartPolling() error {
	s.group.Go(func() error {
		s.eventForwarder()
		return nil
	})
	s.group.Go(func() error {
		for {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			didWork, err := s.step()
			if err != nil {
				return err
			}
			if !didWork {
				time.Sleep(s.cfg.PollingIdleSleep)
			}
		}
	})
	return s.group.Wait()
}

// ManualStep runs exactly one dispatcher iteration, for deterministic
// tests and external scheduling loops. Every event that iteration emitted
// is on the InboundReceiver channel by the time it returns.
func (s *Socket) ManualStep() error {
	_, err := s.step()
	if s.ctx.Err() != nil {
		return err
	}
	for n := s.inboundIn.Len(); n > 0; n-- {
		ev := (<-s.inboundIn.Out()).(Event)
		select {
		case s.inboundOut <- ev:
		case <-s.ctx.Done():
			return err
		}
	}
	return err
}

// Close stops the dispatcher and releases the underlying socket. If
// StartPolling is running, the inbound event channel is closed when its
// forwarder stops; events still queued at that point are discarded.
func (s *Socket) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.cancel()
		s.inboundIn.Close()
		closeErr = s.pc.Close()
		_ = s.group.Wait()
	})
	return closeErr
}

// eventForwarder drains the unbounded internal event queue into the
// public, typed inbound channel, so a slow consumer of InboundReceiver
// never blocks the dispatcher goroutine pushing new events.
func (s *Socket) eventForwarder() {
	defer close(s.inboundOut)
	out := s.inboundIn.Out()
	for {
		select {
		case v, ok := <-out:
			if !ok {
				return
			}
			select {
			case s.inboundOut <- v.(Event):
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Socket) emit(ev Event) {
	s.inboundIn.In() <- ev
}

// step runs one full dispatcher iteration: non-blocking (or bounded-block)
// receive, outbound drain, per-connection tick. It reports whether any
// work was done, for the idle-sleep decision in StartPolling.
func (s *Socket) step() (didWork bool, err error) {
	now := time.Now()

	if s.cfg.BlockingMode {
		_ = s.pc.SetReadDeadline(now.Add(s.cfg.ReceiveTimeout))
	} else {
		_ = s.pc.SetReadDeadline(now.Add(time.Millisecond))
	}

	buf := make([]byte, s.cfg.ReceiveBufferMaxSize)
	for i := 0; i < s.cfg.MaxPacketsPerTick; i++ {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return didWork, fmt.Errorf("reading datagram: %w", err)
		}
		didWork = true
		s.handleDatagram(addr, append([]byte(nil), buf[:n]...), now)
	}

drainOutbound:
	for i := 0; i < s.cfg.MaxPacketsPerTick; i++ {
		select {
		case msg, ok := <-s.outbound:
			if !ok {
				s.cancel()
				break drainOutbound
			}
			didWork = true
			s.handleOutbound(msg, now)
		default:
			break drainOutbound
		}
	}

	for _, conn := range s.conns.all() {
		s.tickConn(conn, now)
	}

	return didWork, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// handleDatagram processes one inbound datagram: connection lookup/create
// (subject to the unestablished cap), ingest, and delivery of whatever
// surfaces.
func (s *Socket) handleDatagram(addr net.Addr, data []byte, now time.Time) {
	std, _, err := decodeStandardHeader(data)
	if err != nil {
		s.logger.Warn("dropping malformed datagram from %s: %v", addr, err)
		s.bumpDropped()
		return
	}
	if std.ProtocolID != s.pid {
		s.logger.Debug("dropping datagram with mismatched protocol id from %s", addr)
		s.bumpDropped()
		return
	}

	conn, ok := s.conns.getOrCreate(addr, &s.cfg, s.logger, now)
	if !ok {
		s.logger.Warn("rejecting datagram from %s: %v", addr, ErrConnectionRejected)
		s.bumpDropped()
		return
	}

	if conn.markReceived(now) {
		s.conns.noteEstablished()
		s.emit(Event{Kind: EventConnect, Remote: addr, ConnID: conn.id})
	}

	s.bumpReceived()
	res, err := conn.ingest(data, now)
	if err != nil {
		s.logger.Warn("dropping datagram from %s: %v", addr, err)
		s.bumpDropped()
		return
	}
	for _, m := range res.delivered {
		s.emit(Event{Kind: EventMessage, Remote: addr, ConnID: conn.id, Message: m})
	}
}

// handleOutbound processes one caller-submitted message: connection
// lookup/create and enqueue_outbound (fragmentation, arrangement tagging,
// reliability tagging), then writes every resulting datagram.
func (s *Socket) handleOutbound(msg OutboundMessage, now time.Time) {
	conn, ok := s.conns.getOrCreate(msg.Remote, &s.cfg, s.logger, now)
	if !ok {
		s.logger.Warn("dropping outbound message to %s: unestablished connection cap reached", msg.Remote)
		return
	}

	packets, err := conn.buildDatagrams(s.pid, msg.Stream, msg.Delivery, msg.Payload, s.cfg.FragmentSize, s.cfg.MaxPacketsInFlight, now)
	if err != nil {
		if errors.Is(err, ErrExceededInFlight) {
			wasEstablished := conn.isEstablished()
			s.logger.Error("disconnecting %s: exceeded max packets in flight", msg.Remote)
			s.teardown(conn, wasEstablished, teardownInFlight)
			return
		}
		s.logger.Error("failed to send message to %s: %v", msg.Remote, err)
		return
	}
	if conn.markSent(now) {
		s.conns.noteEstablished()
		s.emit(Event{Kind: EventConnect, Remote: msg.Remote, ConnID: conn.id})
	}
	for _, p := range packets {
		s.write(msg.Remote, p.bytes)
	}
}

// tickConn runs on_tick for one connection, writes any heartbeat/resend
// datagrams it produced, and tears the connection down if it decided to.
func (s *Socket) tickConn(conn *virtualConn, now time.Time) {
	wasEstablished := conn.isEstablished()
	res := conn.onTick(s.pid, &s.cfg, now)

	if res.heartbeat != nil {
		s.write(conn.remote, res.heartbeat)
	}
	for _, r := range res.resends {
		s.bumpRetransmitted()
		s.write(conn.remote, r)
	}

	if !res.teardown {
		return
	}
	s.teardown(conn, wasEstablished, res.reason)
}

// teardown removes conn from the table and emits the Disconnect or Timeout
// event its established state and reason call for. ExceededMaxPacketsInFlight
// always disconnects, even caught mid-handshake, since that error is only
// ever raised from the reliable-send path and never from the unestablished
// handshake timeout.
func (s *Socket) teardown(conn *virtualConn, wasEstablished bool, reason teardownReason) {
	s.conns.remove(conn.remote, wasEstablished)
	if wasEstablished || reason == teardownInFlight {
		s.logger.Info("disconnecting %s: %s", conn.remote, reason)
		s.emit(Event{Kind: EventDisconnect, Remote: conn.remote, ConnID: conn.id, RTT: conn.rtt.Smoothed(0)})
		return
	}
	s.logger.Info("timing out unestablished connection %s", conn.remote)
	s.emit(Event{Kind: EventTimeout, Remote: conn.remote, ConnID: conn.id})
}

func (s *Socket) write(addr net.Addr, data []byte) {
	if _, err := s.pc.WriteTo(data, addr); err != nil {
		s.logger.Warn("write to %s failed: %v", addr, err)
		return
	}
	s.bumpSent()
}

func (s *Socket) bumpSent() {
	s.statsMu.Lock()
	s.stats.PacketsSent++
	s.statsMu.Unlock()
}

func (s *Socket) bumpReceived() {
	s.statsMu.Lock()
	s.stats.PacketsReceived++
	s.statsMu.Unlock()
}

func (s *Socket) bumpDropped() {
	s.statsMu.Lock()
	s.stats.PacketsDropped++
	s.statsMu.Unlock()
}

func (s *Socket) bumpRetransmitted() {
	s.statsMu.Lock()
	s.stats.PacketsRetransmitted++
	s.statsMu.Unlock()
}
