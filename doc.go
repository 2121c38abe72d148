// Package rudp implements a semi-reliable, message-oriented transport over
// a single UDP socket. Callers submit messages tagged with one of five
// delivery guarantees - Unreliable, UnreliableSequenced, ReliableUnordered,
// ReliableOrdered, ReliableSequenced - and read delivered payloads and
// connection lifecycle events back off a second channel. A single
// cooperative dispatcher owns the socket and every remote peer's state;
// see Socket, Bind, and the OutboundMessage/Event types.
package rudp
