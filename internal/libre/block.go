package libre

import (
	"encoding/binary"
	"fmt"
)

/*
Sensor Memory Block Layout

A polling session delivers the sensor's 344-byte memory image. The decoder only
ever reads from the fixed offsets below; nothing is derived from the slice length.

BLOCK STRUCTURE (344 bytes total):
├── Header (24 bytes) - offset 0
│   ├── bytes 0-1  header checksum
│   ├── bytes 2-3  factory calibration bits (i1, i2)
│   └── byte 4     sensor state
├── Body (296 bytes) - offset 24
│   ├── bytes 24-25  body checksum
│   ├── byte 26      next trend write slot
│   ├── byte 27      next history write slot
│   ├── bytes 28-123   trend ring, 16 × 6-byte samples (one per minute)
│   ├── bytes 124-315  history ring, 32 × 6-byte samples (one per 15 minutes)
│   └── bytes 316-317  sensor age in minutes (little-endian)
└── Footer (24 bytes) - offset 320
    ├── bytes 320-321  footer checksum
    └── bytes 336-343  factory calibration bits (i3, i4, i5, i6)

SAMPLE STRUCTURE (6 bytes):
├── bits 0-12   raw glucose code
├── bits 26-37  raw thermistor reading
└── bits 38-47  temperature adjustment (9 bits + sign)
*/

const (
	BLOCK_SIZE = 344 // Full memory image size in bytes

	STATE_OFFSET         = 4   // Sensor state byte
	TREND_INDEX_OFFSET   = 26  // Next trend slot to be written
	HISTORY_INDEX_OFFSET = 27  // Next history slot to be written
	TREND_TABLE_OFFSET   = 28  // First byte of the trend ring
	HISTORY_TABLE_OFFSET = 124 // First byte of the history ring
	AGE_OFFSET           = 316 // Sensor age in minutes, 2 bytes little-endian
	FOOTER_OFFSET        = 320 // Start of the manufacturing footer

	SAMPLE_SIZE   = 6  // Bytes per trend/history sample
	TREND_SLOTS   = 16 // Trend ring capacity
	HISTORY_SLOTS = 32 // History ring capacity

	HISTORY_INTERVAL_MINUTES = 15 // Spacing of history samples
	HISTORY_INDEX_LAG        = 3  // Minutes the history index trails the minute boundary

	RAW_CODE_MASK  = 0x1FFF    // 13-bit raw glucose code
	RAW_MULTIPLIER = 117.64705 // Uncalibrated raw-to-glucose multiplier
)

// RawBlock is one sensor memory image. The array type fixes the length, so every
// offset above is in range by construction.
type RawBlock [BLOCK_SIZE]byte

// NewRawBlock copies data into a RawBlock. The input must be exactly BLOCK_SIZE bytes.
func NewRawBlock(data []byte) (*RawBlock, error) {
	if len(data) != BLOCK_SIZE {
		return nil, fmt.Errorf("invalid block size: expected %d, got %d", BLOCK_SIZE, len(data))
	}
	var b RawBlock
	copy(b[:], data)
	return &b, nil
}

// AgeMinutes returns the sensor age counter.
func (b *RawBlock) AgeMinutes() int {
	return int(binary.LittleEndian.Uint16(b[AGE_OFFSET : AGE_OFFSET+2]))
}

// State returns the decoded sensor state byte.
func (b *RawBlock) State() SensorState {
	return SensorStateFromByte(b[STATE_OFFSET])
}

// TrendIndex returns the next trend slot, reduced into ring range.
func (b *RawBlock) TrendIndex() int {
	return int(b[TREND_INDEX_OFFSET]) % TREND_SLOTS
}

// HistoryIndex returns the next history slot, reduced into ring range.
func (b *RawBlock) HistoryIndex() int {
	return int(b[HISTORY_INDEX_OFFSET]) % HISTORY_SLOTS
}

// Footer returns the manufacturing footer region.
func (b *RawBlock) Footer() []byte {
	return b[FOOTER_OFFSET:BLOCK_SIZE]
}

// sample returns the 6-byte sample in the ring starting at tableOffset.
func (b *RawBlock) sample(tableOffset, slot int) []byte {
	start := tableOffset + slot*SAMPLE_SIZE
	return b[start : start+SAMPLE_SIZE]
}

// ReadBits extracts bitCount bits starting bitOffset bits past byteOffset, least
// significant bit first. Bits past the end of data read as zero.
func ReadBits(data []byte, byteOffset, bitOffset, bitCount int) int {
	res := 0
	for i := 0; i < bitCount; i++ {
		total := byteOffset*8 + bitOffset + i
		byteIdx := total / 8
		if byteIdx >= len(data) {
			break
		}
		bit := (int(data[byteIdx]) >> (total % 8)) & 1
		res |= bit << i
	}
	return res
}
