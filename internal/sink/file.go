package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
)

// File appends records as JSON lines.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFile opens path for appending, creating it if needed.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return &File{path: path, f: f}, nil
}

func (s *File) Name() string { return "file" }

// Publish writes one line per record and syncs the file.
func (s *File) Publish(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("sink file %s: closed", s.path)
	}
	w := bufio.NewWriter(s.f)
	for _, r := range records {
		b, err := r.encode()
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("write sink file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write sink file: %w", err)
	}
	return s.f.Sync()
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
