package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/skypro1111/marker-splitter/internal/segment"
)

// FormatSRTTime formats seconds as HH:MM:SS,mmm.
func FormatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	secs := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, ms%1000)
}

// SRT renders segment transcripts as SubRip cues numbered by segment id.
func SRT(descriptors []segment.Descriptor) string {
	var b strings.Builder
	for _, d := range descriptors {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", d.ID, FormatSRTTime(d.Start), FormatSRTTime(d.End), text)
	}
	return b.String()
}
