package gps

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	gpsdDefaultAddr = "127.0.0.1:2947"
	gpsdDialTimeout = 2 * time.Second

	// gpsdWatch asks for the receiver's raw sentences instead of gpsd's
	// JSON reports. The JSON banner gpsd sends first never starts with '$'
	// and the framer drops it.
	gpsdWatch = `?WATCH={"enable":true,"nmea":true}` + "\n"
)

// dialGPSD connects and subscribes to raw NMEA.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := net.Dialer{Timeout: gpsdDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(gpsdDialTimeout))
	if _, err := conn.Write([]byte(gpsdWatch)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gps: gpsd watch: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}
