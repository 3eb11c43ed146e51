package mtu

import "testing"

func TestMaxPayloadAtMaxMTU(t *testing.T) {
	if got := MaxPayload(512); got != 505 {
		t.Fatalf("MaxPayload(512) = %d, want 505", got)
	}
}

func TestMaxPayloadClampsAboveMax(t *testing.T) {
	if got := MaxPayload(9000); got != MaxPayload(MaxMTU) {
		t.Fatalf("MaxPayload should clamp to MaxMTU")
	}
}

func TestMaxPayloadAtDefaultMTU(t *testing.T) {
	if got := MaxPayload(DefaultMTU); got != 16 {
		t.Fatalf("MaxPayload(23) = %d, want 16", got)
	}
}

func TestMaxPayloadBelowOverhead(t *testing.T) {
	if got := MaxPayload(5); got != 0 {
		t.Fatalf("MaxPayload(5) = %d, want 0", got)
	}
}

func TestExpectedChunksBoundaryScenarios(t *testing.T) {
	cases := []struct {
		name      string
		totalSize int
		chunkSize int
		want      int
	}{
		{"empty payload", 0, 505, 0},
		{"single byte", 1, 505, 1},
		{"exactly one full chunk", 505, 505, 1},
		{"one byte over", 506, 505, 2},
		{"large transfer at batch boundary", 20200, 505, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExpectedChunks(tc.totalSize, tc.chunkSize); got != tc.want {
				t.Fatalf("ExpectedChunks(%d, %d) = %d, want %d", tc.totalSize, tc.chunkSize, got, tc.want)
			}
		})
	}
}

func TestChunksIsDeterministic(t *testing.T) {
	a := Chunks(20200, 505)
	b := Chunks(20200, 505)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestChunksLastChunkIsShort(t *testing.T) {
	ranges := Chunks(506, 505)
	if len(ranges) != 2 {
		t.Fatalf("len = %d, want 2", len(ranges))
	}
	if ranges[0] != (Range{0, 505}) {
		t.Fatalf("first range = %+v", ranges[0])
	}
	if ranges[1] != (Range{505, 506}) {
		t.Fatalf("last range = %+v, want {505 506}", ranges[1])
	}
	if ranges[1].Len() != 1 {
		t.Fatalf("last range length = %d, want 1", ranges[1].Len())
	}
}

func TestChunksEmptyPayload(t *testing.T) {
	if ranges := Chunks(0, 505); ranges != nil {
		t.Fatalf("Chunks(0, 505) = %v, want nil", ranges)
	}
}

func TestChunksCoverWholePayloadExactly(t *testing.T) {
	const total = 20200
	const chunkSize = 505
	ranges := Chunks(total, chunkSize)
	covered := 0
	for i, r := range ranges {
		if r.Start != covered {
			t.Fatalf("chunk %d starts at %d, want %d", i, r.Start, covered)
		}
		covered = r.End
	}
	if covered != total {
		t.Fatalf("covered %d bytes, want %d", covered, total)
	}
}
