package obd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTCPAddr  = "192.168.0.10:35000"
	PollInterval    = 200 * time.Millisecond
	ResponseTimeout = 50 * time.Millisecond
	initTimeout     = 1500 * time.Millisecond
)

var initCommands = []string{"ATZ", "ATE0", "ATL1", "ATSP0"}

type Config struct {
	Enable bool

	// Transport is "serial" or "tcp".
	Transport string
	Device    string
	Baud      int
	Addr      string

	// Interval overrides PollInterval when non-zero.
	Interval time.Duration
}

type Snapshot struct {
	Sample

	Enabled   bool   `json:"enabled"`
	Transport string `json:"transport,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Polls     uint64 `json:"polls"`
	Misses    uint64 `json:"misses"`
	LastError string `json:"last_error,omitempty"`
}

// Service owns the adapter connection. Its poll goroutine is the only writer
// of the published Snapshot.
type Service struct {
	cfg Config
	now func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu sync.Mutex
	tr Transport
}

var (
	openSerialFn = openSerialPort
	dialTCPFn    = dialTCP
)

func New(cfg Config) *Service {
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultTCPAddr
	}
	if cfg.Baud == 0 {
		cfg.Baud = 38400
	}
	if cfg.Interval <= 0 {
		cfg.Interval = PollInterval
	}
	s := &Service{cfg: cfg, now: time.Now}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Transport: cfg.Transport, Endpoint: s.endpoint()})
	return s
}

func (s *Service) endpoint() string {
	if s.cfg.Transport == "serial" {
		return s.cfg.Device
	}
	return s.cfg.Addr
}

func (s *Service) open() (Transport, error) {
	switch s.cfg.Transport {
	case "serial":
		if strings.TrimSpace(s.cfg.Device) == "" {
			return nil, fmt.Errorf("obd: serial device not set")
		}
		return openSerialFn(s.cfg.Device, s.cfg.Baud)
	case "tcp":
		return dialTCPFn(s.cfg.Addr)
	default:
		return nil, fmt.Errorf("obd: unknown transport %q", s.cfg.Transport)
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("obd service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	switch s.cfg.Transport {
	case "serial", "tcp":
	default:
		return fmt.Errorf("obd: unknown transport %q", s.cfg.Transport)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx)
	}()
	log.Printf("obd enabled transport=%s endpoint=%s interval=%s", s.cfg.Transport, s.endpoint(), s.cfg.Interval)
	return nil
}

func (s *Service) run(ctx context.Context) {
	backoff := 250 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for ctx.Err() == nil {
		tr, err := s.open()
		if err != nil {
			s.setDisconnected(err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 250 * time.Millisecond

		s.mu.Lock()
		s.tr = tr
		s.mu.Unlock()

		err = s.session(ctx, tr)
		_ = tr.Close()
		s.mu.Lock()
		s.tr = nil
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.setDisconnected(fmt.Sprintf("obd link lost: %v", err))
		log.Printf("obd link lost endpoint=%s err=%v", s.endpoint(), err)
	}
}

// session initialises the adapter and polls until the link fails or ctx
// ends.
func (s *Service) session(ctx context.Context, tr Transport) error {
	for _, cmd := range initCommands {
		if err := s.command(tr, cmd); err != nil {
			return fmt.Errorf("init %s: %w", cmd, err)
		}
	}
	s.update(func(snap *Snapshot) {
		snap.Connected = true
		snap.LastError = ""
	})
	log.Printf("obd connected endpoint=%s", s.endpoint())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.poll(tr); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// command sends an AT command and waits for the prompt.
func (s *Service) command(tr Transport, cmd string) error {
	if _, err := tr.Write([]byte(cmd + "\r")); err != nil {
		return err
	}
	deadline := s.now().Add(initTimeout)
	for {
		line, err := readLine(tr, deadline, s.now)
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				// Some clones never print a prompt after ATZ.
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if strings.Contains(line, "OK") || strings.HasPrefix(line, "ELM") {
			return nil
		}
	}
}

// poll issues every query once. A timeout or unparsable response is a miss,
// not a link failure; only transport errors end the session.
func (s *Service) poll(tr Transport) error {
	cur := s.Snapshot()
	sample := cur.Sample
	var misses uint64
	for _, q := range Queries {
		ok, err := s.query(tr, q, &sample)
		if err != nil {
			return err
		}
		if !ok {
			misses++
		}
	}
	if misses < uint64(len(Queries)) {
		sample.UpdatedAt = s.now()
	}
	s.update(func(snap *Snapshot) {
		connected := snap.Connected
		snap.Sample = sample
		snap.Connected = connected
		snap.Polls++
		snap.Misses += misses
	})
	return nil
}

func (s *Service) query(tr Transport, q Query, sample *Sample) (bool, error) {
	if _, err := tr.Write([]byte(q.Cmd + "\r")); err != nil {
		return false, err
	}
	deadline := s.now().Add(ResponseTimeout)
	for {
		line, err := readLine(tr, deadline, s.now)
		if line != "" && q.Apply(sample, line) {
			return true, nil
		}
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				return false, nil
			}
			return false, err
		}
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	tr := s.tr
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		_ = tr.Close()
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

// Sample returns the latest decoded vehicle state.
func (s *Service) Sample() Sample { return s.Snapshot().Sample }

func (s *Service) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	fn(&cur)
	s.last.Store(cur)
}

func (s *Service) setDisconnected(msg string) {
	s.update(func(snap *Snapshot) {
		snap.Connected = false
		snap.LastError = msg
	})
}
