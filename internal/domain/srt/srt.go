// Package srt converts between timed transcript items and subtitle-interchange
// text. Plain SRT-style text is the most reliable structured output channel the
// generation adapter has for long transcripts, so both prompting and artifact
// persistence go through this codec.
package srt

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/forPelevin/chatcut/internal/types"
)

var (
	fenceRE     = regexp.MustCompile("(?i)```[a-z]*\n?")
	indexLineRE = regexp.MustCompile(`^\d+$`)
	timestampRE = regexp.MustCompile(`((?:\d{1,2}:)?\d{1,2}:\d{2}(?:[.,]\d{1,3})?)\s*-->\s*((?:\d{1,2}:)?\d{1,2}:\d{2}(?:[.,]\d{1,3})?)`)
)

// Parse extracts transcript items from subtitle-style text. The input may be
// wrapped in code fences and may interleave blank lines; multi-line text bodies
// are joined with a single space. Malformed input yields zero items — callers
// must treat an empty result plus non-empty raw text as "fall back to one
// opaque segment", never as success.
func Parse(text string) []types.TranscriptItem {
	clean := strings.TrimSpace(fenceRE.ReplaceAllString(text, ""))
	clean = strings.ReplaceAll(clean, "```", "")

	lines := strings.Split(clean, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(strings.TrimSuffix(lines[i], "\r"))
	}

	var items []types.TranscriptItem
	for i := 0; i < len(lines); i++ {
		if !indexLineRE.MatchString(lines[i]) {
			continue
		}
		if i+1 >= len(lines) {
			break
		}
		m := timestampRE.FindStringSubmatch(lines[i+1])
		if m == nil {
			continue
		}

		var textLines []string
		j := i + 2
		for j < len(lines) {
			// A new block begins at an index line followed by a timestamp line.
			if indexLineRE.MatchString(lines[j]) && j+1 < len(lines) && timestampRE.MatchString(lines[j+1]) {
				break
			}
			if lines[j] != "" {
				textLines = append(textLines, lines[j])
			}
			j++
		}

		items = append(items, types.TranscriptItem{
			Start: NormalizeTimecode(m[1]),
			End:   NormalizeTimecode(m[2]),
			Text:  strings.Join(textLines, " "),
		})
		i = j - 1
	}
	return items
}

// Generate renders items as subtitle-interchange text, re-numbering 1..N and
// normalizing timecodes. Inverse of Parse for well-formed item lists.
func Generate(items []types.TranscriptItem) string {
	blocks := make([]string, 0, len(items))
	for i, item := range items {
		blocks = append(blocks, fmt.Sprintf("%d\n%s --> %s\n%s\n",
			i+1, NormalizeTimecode(item.Start), NormalizeTimecode(item.End), item.Text))
	}
	return strings.Join(blocks, "\n")
}

// NormalizeTimecode rewrites any recognized timecode as HH:MM:SS,mmm.
// Unrecognized input is returned unchanged.
func NormalizeTimecode(t string) string {
	sec, err := ParseSeconds(t)
	if err != nil {
		return t
	}
	return FormatSeconds(sec)
}

// ParseSeconds converts HH:MM:SS[.,]mmm, MM:SS[.,]mmm, or bare seconds into
// seconds.
func ParseSeconds(t string) (float64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
	if clean == "" {
		return 0, fmt.Errorf("empty timecode")
	}

	frac := 0.0
	if i := strings.Index(clean, "."); i >= 0 {
		f, err := strconv.ParseFloat("0"+clean[i:], 64)
		if err != nil {
			return 0, fmt.Errorf("parse timecode %q: %w", t, err)
		}
		frac = f
		clean = clean[:i]
	}

	parts := strings.Split(clean, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("parse timecode %q: too many components", t)
	}
	sec := 0.0
	for _, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("parse timecode %q: %w", t, err)
		}
		sec = sec*60 + n
	}
	return sec + frac, nil
}

// FormatSeconds renders seconds as HH:MM:SS,mmm.
func FormatSeconds(total float64) string {
	if total < 0 {
		total = 0
	}
	ms := int(math.Round(total * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Duration returns parse(end)-parse(start) in seconds, the duration law used
// for every timeline segment.
func Duration(start, end string) (float64, error) {
	s, err := ParseSeconds(start)
	if err != nil {
		return 0, err
	}
	e, err := ParseSeconds(end)
	if err != nil {
		return 0, err
	}
	return e - s, nil
}
