package obd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeELM answers commands from a table. Unknown commands get no reply, so
// the next read times out.
type fakeELM struct {
	mu       sync.Mutex
	replies  map[string]string
	out      bytes.Buffer
	sent     []string
	closed   bool
	writeErr error
}

func newFakeELM() *fakeELM {
	return &fakeELM{replies: map[string]string{
		"ATZ":   "\r\nELM327 v1.5\r\n>",
		"ATE0":  "OK\r\n>",
		"ATL1":  "OK\r\n>",
		"ATSP0": "OK\r\n>",
		"010C":  "41 0C 1A F8 \r\n\r\n>",
		"010D":  "41 0D 3C \r\n\r\n>",
		"0111":  "NO DATA\r\n\r\n>",
	}}
}

func (f *fakeELM) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cmd := strings.TrimSuffix(string(p), "\r")
	f.sent = append(f.sent, cmd)
	f.out.WriteString(f.replies[cmd])
	return len(p), nil
}

func (f *fakeELM) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.EOF
	}
	if f.out.Len() == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return f.out.Read(p)
}

func (f *fakeELM) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeELM) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeELM) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestService_PollDecodesAndCountsMisses(t *testing.T) {
	svc := New(Config{Enable: true, Transport: "tcp"})
	elm := newFakeELM()

	require.NoError(t, svc.poll(elm))
	snap := svc.Snapshot()
	assert.InDelta(t, 1726.0, snap.RPM, 1e-9)
	assert.InDelta(t, 60*0.277778, snap.SpeedMS, 1e-9)
	assert.Zero(t, snap.ThrottlePct)
	assert.Equal(t, uint64(1), snap.Polls)
	assert.Equal(t, uint64(1), snap.Misses)
	assert.False(t, snap.UpdatedAt.IsZero())
	assert.Equal(t, []string{"010C", "010D", "0111"}, elm.commands())

	// A later miss leaves the decoded value untouched.
	elm.replies["010C"] = "?\r\n>"
	require.NoError(t, svc.poll(elm))
	assert.InDelta(t, 1726.0, svc.Snapshot().RPM, 1e-9)
}

func TestService_PollTransportErrorEndsSession(t *testing.T) {
	svc := New(Config{Enable: true})
	elm := newFakeELM()
	elm.writeErr = errors.New("broken pipe")
	assert.Error(t, svc.poll(elm))
}

func TestService_StartConnectsOverTCP(t *testing.T) {
	elm := newFakeELM()
	old := dialTCPFn
	dialTCPFn = func(addr string) (Transport, error) {
		assert.Equal(t, DefaultTCPAddr, addr)
		return elm, nil
	}
	t.Cleanup(func() { dialTCPFn = old })

	svc := New(Config{Enable: true, Interval: 10 * time.Millisecond})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Close()

	require.Eventually(t, func() bool {
		s := svc.Snapshot()
		return s.Connected && s.RPM > 0
	}, 2*time.Second, 5*time.Millisecond)

	cmds := elm.commands()
	require.GreaterOrEqual(t, len(cmds), len(initCommands))
	assert.Equal(t, initCommands, cmds[:len(initCommands)])
}

func TestService_DialFailureReportsDisconnected(t *testing.T) {
	old := dialTCPFn
	dialTCPFn = func(addr string) (Transport, error) { return nil, errors.New("no route") }
	t.Cleanup(func() { dialTCPFn = old })

	svc := New(Config{Enable: true})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Close()

	require.Eventually(t, func() bool {
		return strings.Contains(svc.Snapshot().LastError, "no route")
	}, time.Second, 5*time.Millisecond)
	assert.False(t, svc.Snapshot().Connected)
}

func TestService_UnknownTransport(t *testing.T) {
	svc := New(Config{Enable: true, Transport: "can"})
	assert.Error(t, svc.Start(context.Background()))
}
