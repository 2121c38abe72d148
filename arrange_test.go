package rudp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderingArrangerBuffersAndDrains(t *testing.T) {
	o := newOrderingArranger()

	// Scenario 2 style arrival: m1 (seq 0), m3 (seq 2), m2 (seq 1).
	out := o.receive(0, []byte("m1"))
	require.Equal(t, [][]byte{[]byte("m1")}, out)

	out = o.receive(2, []byte("m3"))
	assert.Empty(t, out, "m3 arrives early and must buffer until m2 closes the gap")

	out = o.receive(1, []byte("m2"))
	require.Equal(t, [][]byte{[]byte("m2"), []byte("m3")}, out, "m2 closing the gap should release m2 then the buffered m3")
}

func TestOrderingArrangerDropsStaleDuplicate(t *testing.T) {
	o := newOrderingArranger()
	o.receive(0, []byte("m1"))
	out := o.receive(0, []byte("m1-dup"))
	assert.Empty(t, out, "a seq already delivered must not be redelivered")
}

func TestOrderingArrangerStartsAtZero(t *testing.T) {
	o := newOrderingArranger()
	// An out-of-order first arrival (seq 5) must buffer, not seed next_expected.
	out := o.receive(5, []byte("late"))
	assert.Empty(t, out)
	assert.Equal(t, uint16(0), o.next, "next_expected must start at 0 regardless of what arrives first")
}

func TestOrderingArrangerEvictsWhenFull(t *testing.T) {
	o := newOrderingArranger()
	for i := uint16(1); i <= orderingCap+10; i++ {
		o.receive(i, []byte("x"))
	}
	assert.LessOrEqual(t, len(o.buffer), orderingCap)
}

func TestSequencingArrangerDropsStale(t *testing.T) {
	s := newSequencingArranger()
	assert.True(t, s.receive(5), "first sample is always delivered")
	assert.True(t, s.receive(6))
	assert.False(t, s.receive(3), "seq older than the highest seen must be dropped")
	assert.True(t, s.receive(7))
}

func TestSequencingArrangerWraparound(t *testing.T) {
	s := newSequencingArranger()
	s.receive(65530)
	assert.True(t, s.receive(2), "2 is newer than 65530 under 16-bit wraparound")
}

func TestArrangeTableRoutesByDeliveryKind(t *testing.T) {
	tbl := newArrangeTable()

	out := tbl.receive(0, ReliableOrdered, 0, []byte("a"))
	assert.Equal(t, [][]byte{[]byte("a")}, out)

	out = tbl.receive(1, ReliableSequenced, 10, []byte("b"))
	assert.Equal(t, [][]byte{[]byte("b")}, out)
	out = tbl.receive(1, ReliableSequenced, 5, []byte("stale"))
	assert.Empty(t, out)
}

func TestArrangeTableNextOutboundPerStream(t *testing.T) {
	tbl := newArrangeTable()
	assert.Equal(t, uint16(0), tbl.nextOutbound(0, ReliableOrdered))
	assert.Equal(t, uint16(1), tbl.nextOutbound(0, ReliableOrdered))
	assert.Equal(t, uint16(0), tbl.nextOutbound(1, ReliableOrdered), "different stream has its own counter")
	assert.Equal(t, uint16(0), tbl.nextOutbound(0, ReliableSequenced), "ordering and sequencing counters are independent")
}
