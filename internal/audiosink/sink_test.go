package audiosink

import (
	"encoding/binary"
	"math"
	"testing"
)

type constRenderer struct{ l, r float32 }

func (c constRenderer) Render(left, right []float32) {
	for i := range left {
		left[i] = c.l
		right[i] = c.r
	}
}

func TestStreamReaderInterleavesLeftRightAsFloat32LE(t *testing.T) {
	sr := NewStreamReader(constRenderer{l: 0.5, r: -0.25})
	buf := make([]byte, 8*3) // 3 frames
	n, err := sr.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 24 {
		t.Fatalf("n = %d, want 24", n)
	}
	left := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	right := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	if left != 0.5 || right != -0.25 {
		t.Fatalf("frame 0 = (%v, %v), want (0.5, -0.25)", left, right)
	}
}

func TestStreamReaderHandlesZeroLengthRead(t *testing.T) {
	sr := NewStreamReader(constRenderer{})
	n, err := sr.Read(make([]byte, 3)) // fewer than 8 bytes: zero whole frames
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

func TestStreamReaderReusesBufferAcrossReads(t *testing.T) {
	sr := NewStreamReader(constRenderer{l: 1, r: 1})
	big := make([]byte, 8*100)
	if _, err := sr.Read(big); err != nil {
		t.Fatalf("Read: %v", err)
	}
	small := make([]byte, 8*10)
	n, err := sr.Read(small)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 80 {
		t.Fatalf("n = %d, want 80", n)
	}
}
