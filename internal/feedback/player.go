package feedback

import "time"

// LEDPattern blinks Color Repeats times.
type LEDPattern struct {
	On      time.Duration
	Off     time.Duration
	Repeats int
	Color   Color
}

type ledPlayer struct {
	pat    LEDPattern
	active bool
	lit    bool
	count  int
	next   time.Time
}

func (p *ledPlayer) schedule(pat LEDPattern, now time.Time) {
	*p = ledPlayer{pat: pat, active: pat.Repeats > 0, next: now}
}

func (p *ledPlayer) stop() { p.active = false }

// tick advances the pattern. It returns the color to show and whether the
// player drove the output this tick.
func (p *ledPlayer) tick(now time.Time) (Color, bool) {
	if !p.active || now.Before(p.next) {
		return Off, false
	}
	if !p.lit {
		p.lit = true
		p.next = now.Add(p.pat.On)
		return p.pat.Color, true
	}
	p.lit = false
	p.count++
	if p.count >= p.pat.Repeats {
		p.active = false
	} else {
		p.next = now.Add(p.pat.Off)
	}
	return Off, true
}

const maxNotes = 4

type tonePlayer struct {
	notes  []Note
	idx    int
	active bool
	next   time.Time
}

func (p *tonePlayer) schedule(notes []Note, now time.Time) {
	if len(notes) > maxNotes {
		notes = notes[:maxNotes]
	}
	*p = tonePlayer{notes: append([]Note(nil), notes...), active: len(notes) > 0, next: now}
}

// tick returns the frequency to play (0 = silence) and whether the player
// changed the output.
func (p *tonePlayer) tick(now time.Time) (int, bool) {
	if !p.active || now.Before(p.next) {
		return 0, false
	}
	if p.idx < len(p.notes) {
		n := p.notes[p.idx]
		p.idx++
		p.next = now.Add(n.Duration())
		return n.Hz(), true
	}
	p.active = false
	return 0, true
}
