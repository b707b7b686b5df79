package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const maxLineSize = 1 << 20

// FileSource reads one payload per line. Blank lines are skipped.
type FileSource struct {
	f       *os.File
	scanner *bufio.Scanner
}

func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &FileSource{f: f, scanner: sc}, nil
}

// FileSourceFactory opens <dataDir>/<topic> for each topic.
func FileSourceFactory(dataDir string) SourceFactory {
	return func(topic string) (Source, error) {
		return NewFileSource(filepath.Join(dataDir, topic))
	}
}

func (s *FileSource) Next(ctx context.Context) ([]byte, error) {
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
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
}

func (s *FileSource) Close() error {
	return s.f.Close()
}

// SliceSource replays a fixed set of payloads.
type SliceSource struct {
	payloads [][]byte
	pos      int
}

func NewSliceSource(payloads ...[]byte) *SliceSource {
	return &SliceSource{payloads: payloads}
}

func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.payloads) {
		return nil, io.EOF
	}
	p := s.payloads[s.pos]
	s.pos++
	return p, nil
}

func (s *SliceSource) Close() error { return nil }
