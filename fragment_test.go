package rudp

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPayloadChunking(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 25)
	chunks, err := splitPayload(payload, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 5)
}

func TestSplitPayloadEmpty(t *testing.T) {
	chunks, err := splitPayload(nil, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0])
}

func TestSplitPayloadTooManyFragments(t *testing.T) {
	payload := bytes.Repeat([]byte{1}, MaxFragments*10+1)
	_, err := splitPayload(payload, 10)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestFragmentReassemblyOutOfOrder(t *testing.T) {
	r := newFragmentReassembly()
	now := time.Now()
	parts := [][]byte{[]byte("aa"), []byte("bb"), []byte("cc"), []byte("dd")}

	// Scenario 4 style arrival order: fragment 3, 1, 0, 2.
	order := []int{3, 1, 0, 2}
	var complete []byte
	var done bool
	for _, idx := range order {
		h := fragmentHeader{GroupSeq: 5, FragmentID: uint8(idx), TotalFragments: 4}
		var meta *fragGroup
		if idx == 0 {
			meta = &fragGroup{delivery: ReliableOrdered, arrange: &arrangementHeader{ArrangementSeq: 1, StreamID: 3}}
		}
		out, delivery, arrange, d, err := r.ingest(h, now, meta, parts[idx])
		require.NoError(t, err)
		if d {
			complete = out
			done = true
			assert.Equal(t, ReliableOrdered, delivery)
			require.NotNil(t, arrange)
			assert.Equal(t, uint8(3), arrange.StreamID)
		}
	}
	require.True(t, done)
	assert.Equal(t, "aabbccdd", string(complete))
}

func TestFragmentReassemblyTotalMismatch(t *testing.T) {
	r := newFragmentReassembly()
	now := time.Now()
	_, _, _, _, err := r.ingest(fragmentHeader{GroupSeq: 1, FragmentID: 0, TotalFragments: 3}, now, &fragGroup{}, []byte("a"))
	require.NoError(t, err)
	_, _, _, _, err = r.ingest(fragmentHeader{GroupSeq: 1, FragmentID: 1, TotalFragments: 4}, now, nil, []byte("b"))
	assert.ErrorIs(t, err, ErrFragmentMismatch)
}

func TestFragmentReassemblySweepExpired(t *testing.T) {
	r := newFragmentReassembly()
	now := time.Now()
	_, _, _, _, err := r.ingest(fragmentHeader{GroupSeq: 9, FragmentID: 0, TotalFragments: 2}, now, &fragGroup{}, []byte("a"))
	require.NoError(t, err)

	evicted := r.sweepExpired(now.Add(time.Second), 5*time.Second)
	assert.Equal(t, 0, evicted)

	evicted = r.sweepExpired(now.Add(10*time.Second), 5*time.Second)
	assert.Equal(t, 1, evicted)
	assert.Empty(t, r.groups)
}
