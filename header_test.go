package rudp

import "testing"

func TestStandardHeaderRoundTrip(t *testing.T) {
	cases := []standardHeader{
		{ProtocolID: 0, Kind: kindData, Delivery: Unreliable},
		{ProtocolID: 0xdeadbeef, Kind: kindDataFragment, Delivery: ReliableOrdered},
		{ProtocolID: 1, Kind: kindHeartbeat, Delivery: ReliableSequenced},
	}
	for _, h := range cases {
		var buf []byte
		buf = encodeStandardHeader(buf, h.ProtocolID, h.Kind, h.Delivery)
		got, rest, err := decodeStandardHeader(buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if got != h {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
		}
		if len(rest) != 0 {
			t.Errorf("expected no trailing bytes, got %d", len(rest))
		}
	}
}

func TestStandardHeaderTruncated(t *testing.T) {
	_, _, err := decodeStandardHeader([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error decoding truncated standard header")
	}
}

func TestStandardHeaderUnknownDelivery(t *testing.T) {
	var buf []byte
	buf = encodeStandardHeader(buf, 1, kindData, Delivery(200))
	_, _, err := decodeStandardHeader(buf)
	if err == nil {
		t.Fatal("expected error decoding unknown delivery value")
	}
}

func TestAckHeaderRoundTrip(t *testing.T) {
	h := ackHeader{Seq: 100, LastAck: 42, AckBitfield: 0xff00ff00}
	var buf []byte
	buf = encodeAckHeader(buf, h)
	got, rest, err := decodeAckHeader(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Errorf("expected no trailing bytes, got %d", len(rest))
	}
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	h := fragmentHeader{GroupSeq: 7, FragmentID: 2, TotalFragments: 4}
	var buf []byte
	buf = encodeFragmentHeader(buf, h)
	got, _, err := decodeFragmentHeader(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestFragmentHeaderOutOfRange(t *testing.T) {
	h := fragmentHeader{GroupSeq: 1, FragmentID: 4, TotalFragments: 4}
	var buf []byte
	buf = encodeFragmentHeader(buf, h)
	if _, _, err := decodeFragmentHeader(buf); err == nil {
		t.Fatal("expected error for fragment_id >= total_fragments")
	}
}

func TestArrangementHeaderRoundTrip(t *testing.T) {
	h := arrangementHeader{ArrangementSeq: 9001, StreamID: 17}
	var buf []byte
	buf = encodeArrangementHeader(buf, h)
	got, _, err := decodeArrangementHeader(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestSeqGreaterWraps(t *testing.T) {
	if !seqGreater(1, 0) {
		t.Error("1 should be newer than 0")
	}
	if seqGreater(0, 1) {
		t.Error("0 should not be newer than 1")
	}
	if !seqGreater(0, 65535) {
		t.Error("0 should be newer than 65535 (wraparound)")
	}
	if seqGreater(5, 5) {
		t.Error("equal sequence numbers should not be 'greater'")
	}
}
