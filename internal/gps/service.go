package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the GPS reader.
//
// Device may be empty to auto-detect /dev/ttyACM* or /dev/ttyUSB*.
type Config struct {
	Enable bool

	// Source selects the byte transport: "serial" (direct NMEA) or "gpsd"
	// (gpsd relaying raw NMEA).
	Source string

	GPSDAddr string

	Device string
	Baud   int
}

type Snapshot struct {
	Fix

	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Source    string `json:"source,omitempty"`
	Device    string `json:"device,omitempty"`
	Baud      int    `json:"baud,omitempty"`
	GPSDAddr  string `json:"gpsd_addr,omitempty"`
	Sentences int    `json:"sentences"`
	Dropped   int    `json:"dropped"`
	LastError string `json:"last_error,omitempty"`
}

// Service reads one transport and publishes Snapshot values. The reader
// goroutine is the only writer.
type Service struct {
	cfg Config
	now func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
}

var openSerialFn = openSerial

func New(cfg Config) *Service {
	cfg.Source = normalizeSource(cfg.Source)
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	s := &Service{cfg: cfg, now: time.Now}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Source: cfg.Source, Device: cfg.Device, Baud: cfg.Baud, GPSDAddr: cfg.GPSDAddr})
	return s
}

func normalizeSource(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" || src == "nmea" {
		return "serial"
	}
	return src
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch s.cfg.Source {
	case "gpsd":
		return s.startGPSDLocked(ctx)
	case "serial":
		return s.startSerialLocked(ctx)
	default:
		return fmt.Errorf("gps: unknown source %q", s.cfg.Source)
	}
}

func (s *Service) startSerialLocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps: auto-detect failed")
		}
	}
	baud := s.cfg.Baud

	f, err := openSerialFn(device, baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err))
		return fmt.Errorf("gps: open %s: %w", device, err)
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.last.Store(Snapshot{Enabled: true, Connected: true, Source: "serial", Device: device, Baud: baud})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = f.Close() }()

		log.Printf("gps enabled source=serial device=%s baud=%d", device, baud)
		dec := NewDecoder(s.now)
		err := s.pump(childCtx, f, dec)
		s.setDisconnected(fmt.Sprintf("gps read stopped: %v", err))
	}()
	return nil
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.last.Store(Snapshot{Enabled: true, Source: "gpsd", GPSDAddr: addr})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Printf("gps enabled source=gpsd addr=%s", addr)
		dec := NewDecoder(s.now)
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second

		for {
			if childCtx.Err() != nil {
				return
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setDisconnected(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < maxBackoff {
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			s.closer = conn
			s.mu.Unlock()

			s.setConnected(true)
			// Partial lines from a previous connection are not carried over.
			dec.framer.Reset()
			err = s.pump(childCtx, conn, dec)
			_ = conn.Close()
			s.setDisconnected(fmt.Sprintf("gpsd read stopped: %v", err))
		}
	}()
	return nil
}

// pump copies transport bytes into the decoder until ctx ends or the reader
// fails, publishing a snapshot whenever a sentence changes the fix.
func (s *Service) pump(ctx context.Context, r io.Reader, dec *Decoder) error {
	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := r.Read(buf)
		changed := false
		for _, b := range buf[:n] {
			if dec.FeedByte(b) {
				changed = true
			}
		}
		if changed {
			s.publish(dec)
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}
	}
}

func (s *Service) publish(dec *Decoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	cur.Fix = dec.Fix()
	cur.Sentences = dec.Accepted
	cur.Dropped = dec.Dropped
	s.last.Store(cur)
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

// Fix returns the latest decoded fix.
func (s *Service) Fix() Fix { return s.Snapshot().Fix }

func (s *Service) setConnected(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	cur.Connected = ok
	s.last.Store(cur)
}

func (s *Service) setDisconnected(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	cur.Connected = false
	cur.LastError = msg
	s.last.Store(cur)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	s.last.Store(cur)
}

func autoDetectDevice() string {
	for _, pattern := range []string{"/dev/ttyACM%d", "/dev/ttyUSB%d"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf(pattern, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
