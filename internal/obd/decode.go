// Package obd polls an ELM327-style vehicle diagnostic adapter for engine
// RPM, vehicle speed and throttle position.
package obd

import (
	"strconv"
	"strings"
	"time"
)

const kmhToMS = 0.277778

// Sample is the decoded vehicle state. A failed parse leaves the previous
// value in place.
type Sample struct {
	RPM         float64   `json:"rpm"`
	ThrottlePct float64   `json:"throttle_pct"`
	SpeedMS     float64   `json:"speed_ms"`
	Connected   bool      `json:"connected"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Query is one mode-01 PID request and its response transform.
type Query struct {
	Cmd    string
	Prefix string
	Bytes  int
	apply  func(s *Sample, b []byte)
}

// Queries are issued in order once per polling interval.
var Queries = []Query{
	{Cmd: "010C", Prefix: "410C", Bytes: 2, apply: func(s *Sample, b []byte) {
		s.RPM = float64(int(b[0])<<8|int(b[1])) / 4
	}},
	{Cmd: "010D", Prefix: "410D", Bytes: 1, apply: func(s *Sample, b []byte) {
		s.SpeedMS = float64(b[0]) * kmhToMS
	}},
	{Cmd: "0111", Prefix: "4111", Bytes: 1, apply: func(s *Sample, b []byte) {
		s.ThrottlePct = float64(b[0]) * 100 / 255
	}},
}

// Apply scans resp for the query's echo prefix and, on success, updates s.
// Spaces, prompts and adapter chatter around the payload are tolerated.
func (q Query) Apply(s *Sample, resp string) bool {
	b, ok := payload(resp, q.Prefix, q.Bytes)
	if !ok {
		return false
	}
	q.apply(s, b)
	return true
}

func payload(resp, prefix string, n int) ([]byte, bool) {
	compact := strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '>':
			return -1
		}
		return r
	}, resp))
	i := strings.Index(compact, prefix)
	if i < 0 {
		return nil, false
	}
	hex := compact[i+len(prefix):]
	if len(hex) < 2*n {
		return nil, false
	}
	out := make([]byte, n)
	for k := 0; k < n; k++ {
		v, err := strconv.ParseUint(hex[2*k:2*k+2], 16, 8)
		if err != nil {
			return nil, false
		}
		out[k] = byte(v)
	}
	return out, true
}
