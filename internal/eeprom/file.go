package eeprom

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is a Store backed by a fixed-size image file. A missing file is
// created and filled with 0xFF, like an erased part.
type File struct {
	f    *os.File
	path string
}

func OpenFile(path string, size int) (*File, error) {
	path = filepath.Clean(path)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eeprom: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eeprom: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("eeprom: stat %s: %w", path, err)
	}
	if st.Size() < int64(size) {
		pad := make([]byte, int64(size)-st.Size())
		for i := range pad {
			pad[i] = 0xFF
		}
		if _, err := f.WriteAt(pad, st.Size()); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("eeprom: init %s: %w", path, err)
		}
	}
	return &File{f: f, path: path}, nil
}

func (s *File) Path() string { return s.path }

func (s *File) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

func (s *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := s.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, s.f.Sync()
}

func (s *File) Close() error {
	if s == nil || s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
