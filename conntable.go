package rudp

import (
	"net"
	"time"
)

// connTable owns every virtualConn for one Socket, keyed by the remote
// address's string form, with an established/unestablished split and a
// cap on unestablished entries as a defense against a flood of half-open
// connections from spoofed or transient addresses.
type connTable struct {
	conns               map[string]*virtualConn
	unestablishedCount  int
	maxUnestablished    int
}

func newConnTable(maxUnestablished int) *connTable {
	return &connTable{
		conns:            make(map[string]*virtualConn),
		maxUnestablished: maxUnestablished,
	}
}

func key(addr net.Addr) string {
	return addr.String()
}

// get returns the existing connection for addr, if any.
func (t *connTable) get(addr net.Addr) (*virtualConn, bool) {
	c, ok := t.conns[key(addr)]
	return c, ok
}

// getOrCreate returns the connection for addr, creating one if absent. ok
// is false when addr has no connection and the unestablished cap has
// already been reached, in which case the caller must silently drop the
// triggering datagram.
func (t *connTable) getOrCreate(addr net.Addr, cfg *Config, logger Logger, now time.Time) (conn *virtualConn, ok bool) {
	k := key(addr)
	if c, exists := t.conns[k]; exists {
		return c, true
	}
	if t.unestablishedCount >= t.maxUnestablished {
		return nil, false
	}
	c := newVirtualConn(addr, cfg, logger, now)
	t.conns[k] = c
	t.unestablishedCount++
	return c, true
}

// noteEstablished moves the unestablished accounting when a connection
// completes its handshake.
func (t *connTable) noteEstablished() {
	if t.unestablishedCount > 0 {
		t.unestablishedCount--
	}
}

// remove tears down one connection. wasEstablished must reflect the
// connection's state prior to removal, to keep unestablishedCount correct.
func (t *connTable) remove(addr net.Addr, wasEstablished bool) {
	k := key(addr)
	if _, ok := t.conns[k]; !ok {
		return
	}
	delete(t.conns, k)
	if !wasEstablished && t.unestablishedCount > 0 {
		t.unestablishedCount--
	}
}

// all returns every tracked connection, for the dispatcher's per-tick
// sweep. The returned slice is a snapshot; it is safe for the caller to
// remove entries from the table while iterating it.
func (t *connTable) all() []*virtualConn {
	out := make([]*virtualConn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

// counts reports the current established/unestablished split for
// Socket.Stats.
func (t *connTable) counts() (established, unestablished int) {
	for _, c := range t.conns {
		if c.isEstablished() {
			established++
		} else {
			unestablished++
		}
	}
	return established, unestablished
}
