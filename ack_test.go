package rudp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckStateTrackAndAck(t *testing.T) {
	var a ackState
	now := time.Now()

	seq := a.nextSeq()
	require.NoError(t, a.track(seq, now, ReliableUnordered, nil, nil, []byte("hi"), 512))
	assert.Equal(t, 1, a.inFlight)

	later := now.Add(20 * time.Millisecond)
	results := a.processAck(ackHeader{Seq: 0, LastAck: seq, AckBitfield: 0}, later)
	require.Len(t, results, 1)
	assert.Equal(t, seq, results[0].seq)
	assert.Equal(t, 20*time.Millisecond, results[0].rtt)
	assert.Equal(t, 0, a.inFlight)
}

func TestAckStateBitfieldAcksOlderEntries(t *testing.T) {
	var a ackState
	now := time.Now()

	var seqs []uint16
	for i := 0; i < 4; i++ {
		seq := a.nextSeq()
		require.NoError(t, a.track(seq, now, ReliableUnordered, nil, nil, nil, 512))
		seqs = append(seqs, seq)
	}

	// Ack the newest (seqs[3]) plus bits for seqs[2], seqs[1] via the bitfield,
	// leaving seqs[0] unacknowledged.
	bitfield := uint32(1<<0 | 1<<1)
	results := a.processAck(ackHeader{LastAck: seqs[3], AckBitfield: bitfield}, now)
	assert.Len(t, results, 3)
	assert.Equal(t, 1, a.inFlight)
}

func TestAckStateExceedsMaxInFlight(t *testing.T) {
	var a ackState
	now := time.Now()
	for i := 0; i < 2; i++ {
		seq := a.nextSeq()
		require.NoError(t, a.track(seq, now, ReliableUnordered, nil, nil, nil, 2))
	}
	seq := a.nextSeq()
	err := a.track(seq, now, ReliableUnordered, nil, nil, nil, 2)
	assert.ErrorIs(t, err, ErrExceededInFlight)
}

func TestAckStateObserveIncomingDuplicate(t *testing.T) {
	var a ackState
	assert.False(t, a.observeIncoming(10))
	assert.True(t, a.observeIncoming(10), "same seq again must be flagged duplicate")
	assert.False(t, a.observeIncoming(11))
	assert.False(t, a.observeIncoming(9), "seq just behind the high-water mark is new")
	assert.True(t, a.observeIncoming(9), "that same old seq again is a duplicate")
}

func TestAckStateObserveIncomingWraparound(t *testing.T) {
	var a ackState
	a.haveRemoteSeq = true
	a.remoteSeq = 65535
	a.remoteBitfield = 0
	assert.False(t, a.observeIncoming(0), "0 is newer than 65535 under wraparound")
	assert.Equal(t, uint16(0), a.remoteSeq)
}

func TestAckStateBuildAckHeaderWithholdsBeforeFirstReceive(t *testing.T) {
	var a ackState
	h := a.buildAckHeader(7)
	assert.Equal(t, uint16(7), h.Seq)
	assert.Equal(t, noRemoteAckSeq, h.LastAck)
	assert.Equal(t, uint32(0), h.AckBitfield)

	a.observeIncoming(0)
	h = a.buildAckHeader(8)
	assert.Equal(t, uint16(0), h.LastAck)
}

func TestAckStateBuildAckHeaderSentinelDoesNotFalselyAckSeqZero(t *testing.T) {
	var a ackState
	now := time.Now()
	seq := a.nextSeq()
	require.NoError(t, a.track(seq, now, ReliableUnordered, nil, nil, []byte("hi"), 512))

	// Simulate the peer's own first packet, sent before it has heard from
	// us: its ack header carries the withheld sentinel, not a real LastAck.
	var peer ackState
	peerHeader := peer.buildAckHeader(0)
	results := a.processAck(peerHeader, now)
	assert.Empty(t, results, "sentinel LastAck must not ack our seq 0")
	assert.Equal(t, 1, a.inFlight)
}

func TestAckStateSweepResend(t *testing.T) {
	var a ackState
	now := time.Now()
	seq := a.nextSeq()
	require.NoError(t, a.track(seq, now, ReliableUnordered, nil, nil, []byte("payload"), 512))

	due := a.sweepResend(now.Add(5*time.Millisecond), 50*time.Millisecond)
	assert.Empty(t, due, "too soon to resend")

	due = a.sweepResend(now.Add(100*time.Millisecond), 50*time.Millisecond)
	require.Len(t, due, 1)
	assert.Equal(t, seq, due[0].seq)
	assert.Equal(t, 1, a.sent[seq%sentBufferSize].retries)
}
