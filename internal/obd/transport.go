package obd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

// Transport is a byte stream to the adapter. Read returns (0, nil) or a
// timeout error once the read timeout elapses without data.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

func openSerialPort(path string, baud int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("obd: open %s: %w", path, err)
	}
	return port, nil
}

type tcpTransport struct {
	net.Conn
	timeout time.Duration
}

func dialTCP(addr string) (Transport, error) {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("obd: dial %s: %w", addr, err)
	}
	return &tcpTransport{Conn: conn}, nil
}

func (t *tcpTransport) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	if t.timeout > 0 {
		if err := t.Conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	}
	return t.Conn.Read(p)
}

var errReadTimeout = errors.New("obd: read timeout")

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readLine collects one response line before deadline. CR is skipped; LF or
// the adapter prompt '>' ends the line.
func readLine(t Transport, deadline time.Time, now func() time.Time) (string, error) {
	var line []byte
	var b [1]byte
	for {
		remaining := deadline.Sub(now())
		if remaining <= 0 {
			return string(line), errReadTimeout
		}
		if err := t.SetReadTimeout(remaining); err != nil {
			return string(line), err
		}
		n, err := t.Read(b[:])
		if n == 1 {
			switch b[0] {
			case '\r':
			case '\n', '>':
				if len(line) > 0 {
					return string(line), nil
				}
			default:
				line = append(line, b[0])
			}
		}
		if err != nil {
			if isTimeout(err) {
				return string(line), errReadTimeout
			}
			return string(line), err
		}
		if n == 0 && !now().Before(deadline) {
			return string(line), errReadTimeout
		}
	}
}
