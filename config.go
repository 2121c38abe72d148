package rudp

import (
	"fmt"
	"time"
)

// Config holds every tunable for a Socket. A Config is copied into the
// Socket at Bind time and never mutated afterward, collected into one
// plain struct so it can round-trip through TOML and mapstructure
// overrides (see config_toml.go).
type Config struct {
	// ProtocolVersion is hashed into every datagram's protocol_id field so
	// two incompatible rudp builds sharing a port range don't try to parse
	// each other's packets.
	ProtocolVersion string

	// BlockingMode selects between Socket.StartPolling's non-blocking
	// receive (spin + PollingIdleSleep) and a receive that blocks up to
	// ReceiveTimeout per iteration.
	BlockingMode bool

	// IdleConnectionTimeout tears an Established connection down (with a
	// Disconnect event) after this long without receiving anything.
	IdleConnectionTimeout time.Duration

	// UnestablishedConnectionTimeout tears an Unestablished connection
	// down (with a Timeout event, no Disconnect) after this long without
	// completing the handshake.
	UnestablishedConnectionTimeout time.Duration

	// HeartbeatInterval is how often an idle Established connection sends
	// a bare heartbeat datagram to keep IdleConnectionTimeout from firing.
	// Zero disables heartbeats for this socket.
	HeartbeatInterval time.Duration

	// MaxPacketsInFlight is the most outstanding unacknowledged reliable
	// packets a connection may have before it is torn down.
	MaxPacketsInFlight int

	// FragmentSize is the payload chunk size a reliable message is split
	// into once it exceeds this many bytes.
	FragmentSize int

	// FragmentReassemblyTimeout evicts an incomplete fragment group this
	// long after its first fragment arrived.
	FragmentReassemblyTimeout time.Duration

	// ReceiveBufferMaxSize is the byte size of the buffer used for each
	// non-blocking UDP read.
	ReceiveBufferMaxSize int

	// RTTSmoothingFactor is the EWMA weight (alpha) applied to each new
	// RTT sample.
	RTTSmoothingFactor float64

	// RTTMaxValueMS clamps the smoothed RTT estimate, in milliseconds.
	RTTMaxValueMS int

	// ResendFloor is the minimum resend_after interval regardless of how
	// low the smoothed RTT is.
	ResendFloor time.Duration

	// SocketEventBufferSize is the capacity of the inbound event channel
	// and outbound message channel.
	SocketEventBufferSize int

	// MaxUnestablishedConnections caps how many Unestablished entries the
	// connection table will hold at once (DoS guard).
	MaxUnestablishedConnections int

	// PollingIdleSleep is how long a non-blocking dispatcher tick sleeps
	// when it had no work to do.
	PollingIdleSleep time.Duration

	// MaxPacketsPerTick bounds how many inbound datagrams a single
	// dispatcher iteration will drain before moving on.
	MaxPacketsPerTick int

	// ReceiveTimeout is the per-iteration read deadline used in blocking
	// mode.
	ReceiveTimeout time.Duration

	// Logger receives internal diagnostic output. A default backed by
	// gopkg.in/op/go-logging.v1 is installed when nil.
	Logger Logger
}

// DefaultConfig returns a Config filled in with reasonable defaults for
// every tunable, suitable for binding a socket without further setup.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion:                "rudp/1",
		BlockingMode:                   false,
		IdleConnectionTimeout:          5 * time.Second,
		UnestablishedConnectionTimeout: 5 * time.Second,
		HeartbeatInterval:              2 * time.Second,
		MaxPacketsInFlight:             512,
		FragmentSize:                   1400,
		FragmentReassemblyTimeout:      30 * time.Second,
		ReceiveBufferMaxSize:           4096,
		RTTSmoothingFactor:             0.10,
		RTTMaxValueMS:                  250,
		ResendFloor:                    30 * time.Millisecond,
		SocketEventBufferSize:          256,
		MaxUnestablishedConnections:    50,
		PollingIdleSleep:               1 * time.Millisecond,
		MaxPacketsPerTick:              1024,
		ReceiveTimeout:                 100 * time.Millisecond,
	}
}

// validate checks the fields Bind depends on for correctness, independent
// of whatever loaded or overrode them.
func (c *Config) validate() error {
	if c.ProtocolVersion == "" {
		return fmt.Errorf("ProtocolVersion must not be empty: %w", ErrInvalidConfig)
	}
	if c.MaxPacketsInFlight <= 0 || c.MaxPacketsInFlight > sentBufferSize {
		return fmt.Errorf("MaxPacketsInFlight must be in (0, %d]: %w", sentBufferSize, ErrInvalidConfig)
	}
	if c.FragmentSize <= 0 {
		return fmt.Errorf("FragmentSize must be positive: %w", ErrInvalidConfig)
	}
	if c.ReceiveBufferMaxSize <= 0 {
		return fmt.Errorf("ReceiveBufferMaxSize must be positive: %w", ErrInvalidConfig)
	}
	if c.RTTSmoothingFactor <= 0 || c.RTTSmoothingFactor > 1 {
		return fmt.Errorf("RTTSmoothingFactor must be in (0, 1]: %w", ErrInvalidConfig)
	}
	if c.RTTMaxValueMS <= 0 {
		return fmt.Errorf("RTTMaxValueMS must be positive: %w", ErrInvalidConfig)
	}
	if c.MaxUnestablishedConnections <= 0 {
		return fmt.Errorf("MaxUnestablishedConnections must be positive: %w", ErrInvalidConfig)
	}
	if c.MaxPacketsPerTick <= 0 {
		return fmt.Errorf("MaxPacketsPerTick must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) rttMax() time.Duration {
	return time.Duration(c.RTTMaxValueMS) * time.Millisecond
}
