package gps

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxSentence bounds the framer buffer. Longer input resets it.
	MaxSentence = 128

	knotsToMS = 0.514444
)

// Fix is the decoded GPS state. Only the decoder mutates it.
type Fix struct {
	LatDeg    float64   `json:"lat_deg"`
	LonDeg    float64   `json:"lon_deg"`
	AltM      float64   `json:"alt_m"`
	SpeedMS   float64   `json:"speed_ms"`
	CourseDeg float64   `json:"course_deg"`
	Sats      int       `json:"sats"`
	HDOP      float64   `json:"hdop"`
	Valid     bool      `json:"valid"`
	LastFix   time.Time `json:"last_fix,omitempty"`
}

// SpeedKMH is the ground speed in km/h.
func (f Fix) SpeedKMH() float64 { return f.SpeedMS * 3.6 }

// Framer accumulates bytes into lines. CR is ignored, LF ends a line.
type Framer struct {
	buf [MaxSentence]byte
	n   int

	// Overflows counts buffer resets caused by over-long input.
	Overflows int
}

// Feed adds one byte and returns a completed line when b is LF.
func (f *Framer) Feed(b byte) (string, bool) {
	switch b {
	case '\r':
		return "", false
	case '\n':
		line := string(f.buf[:f.n])
		f.n = 0
		return line, line != ""
	}
	if f.n >= len(f.buf) {
		f.n = 0
		f.Overflows++
		return "", false
	}
	f.buf[f.n] = b
	f.n++
	return "", false
}

func (f *Framer) Reset() { f.n = 0 }

type nmeaSentence struct {
	Type string
	// Fields is the comma-split payload, excluding '$' and the checksum.
	Fields []string
}

// ValidChecksum reports whether line starts with '$' and carries a two hex
// digit checksum equal to the XOR of every byte between '$' and '*'.
func ValidChecksum(line string) bool {
	_, ok := checkedPayload(line)
	return ok
}

func checkedPayload(line string) (string, bool) {
	if len(line) < 4 || line[0] != '$' {
		return "", false
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 || len(line) < star+3 {
		return "", false
	}
	want, err := hex.DecodeString(line[star+1 : star+3])
	if err != nil {
		return "", false
	}
	payload := line[1:star]
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	return payload, got == want[0]
}

func parseNMEASentence(line string) (nmeaSentence, bool) {
	payload, ok := checkedPayload(strings.TrimSpace(line))
	if !ok {
		return nmeaSentence{}, false
	}
	parts := strings.Split(payload, ",")
	typeField := parts[0]
	if len(typeField) < 5 {
		return nmeaSentence{}, false
	}
	switch typeField[:2] {
	case "GP", "GN":
	default:
		return nmeaSentence{}, false
	}
	return nmeaSentence{Type: typeField[2:], Fields: parts}, true
}

// Decoder turns a raw NMEA byte stream into a Fix. It is not safe for
// concurrent use; Service owns one per transport goroutine.
type Decoder struct {
	framer Framer
	fix    Fix
	now    func() time.Time

	// Accepted and Dropped count checksum-valid and rejected lines.
	Accepted int
	Dropped  int
}

func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now}
}

func (d *Decoder) Fix() Fix { return d.fix }

// Write feeds raw bytes and implements io.Writer. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	for _, b := range p {
		d.FeedByte(b)
	}
	return len(p), nil
}

// FeedByte adds one byte and reports whether a sentence changed the fix.
func (d *Decoder) FeedByte(b byte) bool {
	line, ok := d.framer.Feed(b)
	if !ok {
		return false
	}
	return d.ApplyLine(line)
}

// ApplyLine decodes one complete sentence.
func (d *Decoder) ApplyLine(line string) bool {
	sent, ok := parseNMEASentence(line)
	if !ok {
		d.Dropped++
		return false
	}
	d.Accepted++
	switch sent.Type {
	case "RMC":
		return d.applyRMC(sent.Fields)
	case "GGA":
		return d.applyGGA(sent.Fields)
	default:
		return false
	}
}

// RMC fields: 1 time, 2 status (A/V), 3-4 lat, 5-6 lon, 7 speed (kt),
// 8 course (deg), 9 date.
func (d *Decoder) applyRMC(f []string) bool {
	if len(f) < 9 {
		return false
	}
	switch strings.TrimSpace(f[2]) {
	case "V":
		changed := d.fix.Valid
		d.fix.Valid = false
		return changed
	case "A":
	default:
		return false
	}

	if lat, ok := parseNMEALatLon(f[3], f[4]); ok {
		d.fix.LatDeg = lat
	}
	if lon, ok := parseNMEALatLon(f[5], f[6]); ok {
		d.fix.LonDeg = lon
	}
	if kt, ok := parseFloat(f[7]); ok {
		d.fix.SpeedMS = kt * knotsToMS
	}
	if crs, ok := parseFloat(f[8]); ok {
		d.fix.CourseDeg = crs
	}
	d.fix.Valid = true
	d.fix.LastFix = d.now()
	return true
}

// GGA fields: 6 fix quality (0 = invalid), 7 satellites, 8 HDOP,
// 9 altitude (m).
func (d *Decoder) applyGGA(f []string) bool {
	if len(f) < 10 {
		return false
	}
	q, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil || q <= 0 {
		return false
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		d.fix.Sats = sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		d.fix.HDOP = hdop
	}
	if alt, ok := parseFloat(f[9]); ok {
		d.fix.AltM = alt
	}
	return true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon converts ddmm.mmmm / dddmm.mmmm plus hemisphere into signed
// decimal degrees.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(hemi)
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}
	raw, err := strconv.ParseFloat(v, 64)
	if err != nil || raw < 0 {
		return 0, false
	}
	deg := float64(int(raw / 100))
	mins := raw - deg*100
	if mins >= 60 {
		return 0, false
	}
	dec := deg + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
