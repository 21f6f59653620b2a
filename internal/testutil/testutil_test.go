package testutil

import (
	"testing"

	"github.com/banshee-data/glucose.report/internal/libre"
)

func TestBlockBuilder_TrendWrapsRing(t *testing.T) {
	t.Parallel()

	b := NewBlock().TrendIndex(1).Trend([]int{100, 200, 300}).Build()

	// newest sits just before the next write slot, older ones wrap to the ring end
	got := []int{
		libre.DecodeMeasurement(b[libre.TREND_TABLE_OFFSET : libre.TREND_TABLE_OFFSET+6]).RawGlucose,
		libre.DecodeMeasurement(b[libre.TREND_TABLE_OFFSET+15*6 : libre.TREND_TABLE_OFFSET+16*6]).RawGlucose,
		libre.DecodeMeasurement(b[libre.TREND_TABLE_OFFSET+14*6 : libre.TREND_TABLE_OFFSET+15*6]).RawGlucose,
	}
	want := []int{100, 200, 300}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestWriteBits_RoundTripsReadBits(t *testing.T) {
	t.Parallel()

	data := make([]byte, 8)
	WriteBits(data, 1, 5, 12, 0xABC)
	if got := libre.ReadBits(data, 1, 5, 12); got != 0xABC {
		t.Errorf("ReadBits = %#x, want 0xabc", got)
	}
}

func TestRamp(t *testing.T) {
	t.Parallel()

	got := Ramp(4, 10, 5)
	want := []int{10, 15, 20, 25}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Ramp[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
