package rudp

import "errors"

// Sentinel errors returned by the public API. Internal decode/accounting
// errors are wrapped around one of these with fmt.Errorf("...: %w", err) so
// callers can use errors.Is against a stable set of conditions.
var (
	// ErrNotInitialized names a Socket method called before Bind. No
	// function in this package returns it.
	ErrNotInitialized = errors.New("rudp: socket not initialized")

	// ErrClosed names an operation attempted on a closed Socket. No function
	// in this package returns it; a ManualStep after Close reports the
	// underlying read error instead.
	ErrClosed = errors.New("rudp: socket closed")

	// ErrMessageTooLarge is returned when an outbound message exceeds what
	// fragmentation can carry (MaxFragments fragments at Config.FragmentSize
	// bytes each).
	ErrMessageTooLarge = errors.New("rudp: message too large")

	// ErrUnreliableTooLarge is returned when an Unreliable or
	// UnreliableSequenced message would require fragmentation. Fragmentation
	// is only available to reliable delivery kinds.
	ErrUnreliableTooLarge = errors.New("rudp: unreliable message exceeds single-datagram size")

	// ErrMalformedHeader is returned when a received datagram cannot be
	// decoded as a well-formed rudp packet.
	ErrMalformedHeader = errors.New("rudp: malformed header")

	// ErrProtocolMismatch names a received datagram whose protocol_id does
	// not match this socket's configured protocol ID. The dispatcher drops
	// such datagrams silently; no function in this package returns it.
	ErrProtocolMismatch = errors.New("rudp: protocol id mismatch")

	// ErrFragmentOversized is returned when a fragment header's fragment_id
	// is not less than its own total_fragments.
	ErrFragmentOversized = errors.New("rudp: fragment id out of range")

	// ErrFragmentMismatch is returned when a later fragment of a group
	// disagrees with the group's already-recorded total_fragments, or
	// otherwise cannot belong to the group it claims.
	ErrFragmentMismatch = errors.New("rudp: fragment header mismatch within group")

	// ErrConnectionRejected is returned internally when a datagram from a
	// new remote address is dropped because the unestablished connection
	// cap has been reached. It never reaches the caller as a return value;
	// it is only classified into a dropped-packet log line.
	ErrConnectionRejected = errors.New("rudp: connection rejected, unestablished limit reached")

	// ErrExceededInFlight is the teardown reason recorded when a
	// connection accumulates more outstanding unacknowledged reliable
	// packets than Config.MaxPacketsInFlight allows.
	ErrExceededInFlight = errors.New("rudp: exceeded max packets in flight")

	// ErrInvalidConfig is returned by LoadConfigFile/ApplyOverrides/Bind
	// when a Config value fails validation.
	ErrInvalidConfig = errors.New("rudp: invalid configuration")
)
