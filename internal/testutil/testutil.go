// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the synthetic sensor memory images used across the
// decoder, calibration and processing tests.
package testutil

import (
	"encoding/binary"
	"testing"

	"github.com/banshee-data/glucose.report/internal/libre"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// BlockBuilder assembles synthetic 344-byte memory images.
type BlockBuilder struct {
	b           libre.RawBlock
	temperature int
}

// NewBlock returns a builder for an all-zero block.
func NewBlock() *BlockBuilder {
	return &BlockBuilder{}
}

// State sets the sensor state byte.
func (bb *BlockBuilder) State(s byte) *BlockBuilder {
	bb.b[libre.STATE_OFFSET] = s
	return bb
}

// Age sets the sensor age counter in minutes.
func (bb *BlockBuilder) Age(minutes int) *BlockBuilder {
	binary.LittleEndian.PutUint16(bb.b[libre.AGE_OFFSET:libre.AGE_OFFSET+2], uint16(minutes))
	return bb
}

// TrendIndex sets the next trend slot. Call before Trend.
func (bb *BlockBuilder) TrendIndex(i int) *BlockBuilder {
	bb.b[libre.TREND_INDEX_OFFSET] = byte(i)
	return bb
}

// HistoryIndex sets the next history slot. Call before History.
func (bb *BlockBuilder) HistoryIndex(i int) *BlockBuilder {
	bb.b[libre.HISTORY_INDEX_OFFSET] = byte(i)
	return bb
}

// Temperature sets the thermistor reading written into subsequent samples.
func (bb *BlockBuilder) Temperature(raw int) *BlockBuilder {
	bb.temperature = raw
	return bb
}

// Trend writes raw codes newest-first relative to the current trend index.
func (bb *BlockBuilder) Trend(codes []int) *BlockBuilder {
	next := int(bb.b[libre.TREND_INDEX_OFFSET]) % libre.TREND_SLOTS
	for i, code := range codes {
		slot := ((next-1-i)%libre.TREND_SLOTS + libre.TREND_SLOTS) % libre.TREND_SLOTS
		bb.writeSample(libre.TREND_TABLE_OFFSET+slot*libre.SAMPLE_SIZE, code)
	}
	return bb
}

// History writes raw codes newest-first relative to the current history index.
func (bb *BlockBuilder) History(codes []int) *BlockBuilder {
	next := int(bb.b[libre.HISTORY_INDEX_OFFSET]) % libre.HISTORY_SLOTS
	for i, code := range codes {
		slot := ((next-1-i)%libre.HISTORY_SLOTS + libre.HISTORY_SLOTS) % libre.HISTORY_SLOTS
		bb.writeSample(libre.HISTORY_TABLE_OFFSET+slot*libre.SAMPLE_SIZE, code)
	}
	return bb
}

// CalibrationInfo writes the factory calibration bit fields.
func (bb *BlockBuilder) CalibrationInfo(i1, i2, i3, i4, i5, i6 int) *BlockBuilder {
	WriteBits(bb.b[:], 2, 0, 3, i1)
	WriteBits(bb.b[:], 2, 3, 10, i2)
	WriteBits(bb.b[:], 0x150, 0, 8, i3)
	WriteBits(bb.b[:], 0x150, 8, 14, i4)
	WriteBits(bb.b[:], 0x150, 0x28, 12, i5>>2)
	WriteBits(bb.b[:], 0x150, 0x34, 12, i6>>2)
	return bb
}

// Build returns a copy of the assembled block.
func (bb *BlockBuilder) Build() *libre.RawBlock {
	b := bb.b
	return &b
}

// Ramp returns n codes starting at start and stepping by step.
func Ramp(n, start, step int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i*step
	}
	return out
}

func (bb *BlockBuilder) writeSample(offset, code int) {
	sample := bb.b[offset : offset+libre.SAMPLE_SIZE]
	binary.LittleEndian.PutUint16(sample[0:2], uint16(code&libre.RAW_CODE_MASK))
	WriteBits(sample, 0, 26, 12, bb.temperature>>2)
}

// WriteBits stores value into bitCount bits of data, least significant bit first.
func WriteBits(data []byte, byteOffset, bitOffset, bitCount, value int) {
	for i := 0; i < bitCount; i++ {
		total := byteOffset*8 + bitOffset + i
		mask := byte(1) << (total % 8)
		if (value>>i)&1 == 1 {
			data[total/8] |= mask
		} else {
			data[total/8] &^= mask
		}
	}
}
