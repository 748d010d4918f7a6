package segment

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// AbsorptionWindow is the longest time, measured from a marker's onset,
	// within which following words still belong to that marker's segment.
	AbsorptionWindow = 10.0 // seconds

	// DefaultMinDuration is the default minimum segment length.
	DefaultMinDuration = 2.0 // seconds
)

// ErrInvalidToken is returned for tokens with negative or inverted times.
var ErrInvalidToken = errors.New("invalid token")

var markerPattern = regexp.MustCompile(`^[0-9]+$`)

// Token is a single time-stamped word from a transcript.
type Token struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Descriptor describes one detected segment of the source recording.
type Descriptor struct {
	ID     int     `json:"id"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Marker uint64  `json:"marker"`
	Text   string  `json:"text"`
}

// Duration returns End - Start in seconds.
func (d Descriptor) Duration() float64 {
	return d.End - d.Start
}

// Name returns the zero-padded ordinal used for file names, e.g. "007".
func (d Descriptor) Name() string {
	return Name(d.ID)
}

// Name formats a segment ordinal as a three digit identifier.
func Name(id int) string {
	return fmt.Sprintf("%03d", id)
}

// FileName returns the container file name for a segment ordinal.
func FileName(id int) string {
	return Name(id) + ".wav"
}

// IsMarker reports whether text is a spoken segment number: one or more
// decimal digits and nothing else.
func IsMarker(text string) bool {
	return markerPattern.MatchString(strings.TrimSpace(text))
}

// markerValue parses an all-digit marker. Values beyond uint64 saturate.
func markerValue(text string) uint64 {
	v, _ := strconv.ParseUint(text, 10, 64)
	return v
}

// ValidateTokens checks per-token timing. Ordering is not enforced.
func ValidateTokens(tokens []Token) error {
	for i, t := range tokens {
		if t.Start < 0 || t.End < 0 {
			return fmt.Errorf("%w: token %d (%q) has negative time", ErrInvalidToken, i, t.Text)
		}
		if t.End < t.Start {
			return fmt.Errorf("%w: token %d (%q) ends at %.3f before it starts at %.3f",
				ErrInvalidToken, i, t.Text, t.End, t.Start)
		}
	}
	return nil
}

// Result is the outcome of a detection pass.
type Result struct {
	Segments []Descriptor
	// Dropped holds candidates closed below the minimum duration. Their ID is 0.
	Dropped []Descriptor
}

// Detect returns the segments found in tokens. See DetectAll.
func Detect(tokens []Token, minDuration float64) []Descriptor {
	return DetectAll(tokens, minDuration).Segments
}

// DetectAll runs a single pass over tokens, which must be ordered by start
// time. A segment opens at each marker token and absorbs following words that
// start within AbsorptionWindow of the marker. Segments shorter than
// minDuration are dropped. Emitted segments are numbered from 1.
func DetectAll(tokens []Token, minDuration float64) Result {
	st := detectState{minDuration: minDuration}
	for _, tok := range tokens {
		st = st.step(tok)
	}
	return st.close().result
}

// detectState is the fold accumulator. Every transition returns a new value.
type detectState struct {
	minDuration float64
	open        *Descriptor
	result      Result
}

func (s detectState) step(tok Token) detectState {
	text := strings.TrimSpace(tok.Text)
	if markerPattern.MatchString(text) {
		s = s.close()
		s.open = &Descriptor{
			Start:  tok.Start,
			End:    tok.End,
			Marker: markerValue(text),
			Text:   text,
		}
		return s
	}

	if s.open == nil {
		return s
	}

	if tok.Start-s.open.Start >= AbsorptionWindow {
		// The word is past the window; it belongs to no segment.
		return s.close()
	}

	open := *s.open
	open.End = tok.End
	if text != "" {
		open.Text += " " + text
	}
	s.open = &open
	return s
}

// close emits or drops the open segment and clears it.
func (s detectState) close() detectState {
	if s.open == nil {
		return s
	}
	d := *s.open
	s.open = nil

	if d.Duration() >= s.minDuration {
		d.ID = len(s.result.Segments) + 1
		s.result.Segments = append(s.result.Segments, d)
	} else {
		s.result.Dropped = append(s.result.Dropped, d)
	}
	return s
}
