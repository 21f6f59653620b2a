// Package blocksource reads sensor memory images from files and from a serial
// reader bridge, and paces polling of a source.
package blocksource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
)

// maxFileSize bounds image files; a hex dump with separators fits well within it.
const maxFileSize = 16 * 1024

// Source yields one memory image per call.
type Source interface {
	ReadBlock(ctx context.Context) (*libre.RawBlock, error)
}

// ReadBlock reads exactly one binary memory image from r.
func ReadBlock(r io.Reader) (*libre.RawBlock, error) {
	var block libre.RawBlock
	if _, err := io.ReadFull(r, block[:]); err != nil {
		return nil, fmt.Errorf("failed to read memory image: %w", err)
	}
	return &block, nil
}

// ParseHex decodes a hex encoded image. Whitespace and ':' separators are
// ignored, as is a leading "0x".
func ParseHex(s string) (*libre.RawBlock, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', ':':
			return -1
		}
		return r
	}, s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex image: %w", err)
	}
	return libre.NewRawBlock(data)
}

// LoadFile reads an image stored either as raw bytes or as a hex dump.
func LoadFile(path string) (*libre.RawBlock, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("image file %s too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == libre.BLOCK_SIZE {
		return ReadBlock(bytes.NewReader(data))
	}
	return ParseHex(string(data))
}

// FileSource re-reads the image file on every poll.
type FileSource struct {
	Path string
}

// ReadBlock implements Source.
func (s FileSource) ReadBlock(ctx context.Context) (*libre.RawBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(s.Path)
}

// LineSource reads hex encoded images, one per line, from a stream such as the
// serial bridge. Lines that do not decode to an image are logged and skipped.
type LineSource struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	closer  io.Closer

	closeOnce sync.Once
	closeErr  error
}

// NewLineSource returns a LineSource reading from r. If r is an io.Closer it is
// closed by Close.
func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{scanner: bufio.NewScanner(r)}
	s.scanner.Buffer(make([]byte, 0, 4096), maxFileSize)
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenSerial opens the bridge at path.
func OpenSerial(path string, opts PortOptions) (*LineSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewLineSource(port), nil
}

// ReadBlock implements Source. It blocks until a complete image line arrives.
func (s *LineSource) ReadBlock(ctx context.Context) (*libre.RawBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		block, err := ParseHex(line)
		if err != nil {
			monitoring.Verbosef("blocksource: skipping line: %v", err)
			continue
		}
		return block, nil
	}
}

// Close closes the underlying stream. It may be called while ReadBlock is
// blocked and more than once.
func (s *LineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	s.closeOnce.Do(func() { s.closeErr = s.closer.Close() })
	return s.closeErr
}

// IsEndOfStream reports whether err marks an exhausted source.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}
