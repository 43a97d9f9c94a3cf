package timeline

import (
	"fmt"
	"sort"

	"github.com/forPelevin/chatcut/internal/domain/srt"
	"github.com/forPelevin/chatcut/internal/types"
)

// minGapSeconds is the smallest dialogue gap worth filling with a synthetic
// visual item.
const minGapSeconds = 2.0

// Enrich injects synthetic "visual scene" items into dialogue-free gaps so
// silent or action-only stretches remain selectable by the generator.
// Synthetic items are interleaved in time order with the originals; originals
// are never modified. totalDuration bounds the trailing gap check.
func Enrich(transcript []types.TranscriptItem, descriptions []types.SceneDescription, totalDuration float64) []types.TranscriptItem {
	sorted := make([]types.TranscriptItem, len(transcript))
	copy(sorted, transcript)
	sort.SliceStable(sorted, func(i, j int) bool {
		return startSeconds(sorted[i]) < startSeconds(sorted[j])
	})

	var out []types.TranscriptItem
	previousEnd := 0.0

	for _, item := range sorted {
		start := startSeconds(item)
		if syn, ok := fillGap(descriptions, previousEnd, start); ok {
			out = append(out, syn)
		}
		out = append(out, item)
		if end, err := srt.ParseSeconds(item.End); err == nil {
			previousEnd = end
		}
	}

	if syn, ok := fillGap(descriptions, previousEnd, totalDuration); ok {
		out = append(out, syn)
	}
	return out
}

func fillGap(descriptions []types.SceneDescription, gapStart, gapEnd float64) (types.TranscriptItem, bool) {
	if gapEnd-gapStart <= minGapSeconds {
		return types.TranscriptItem{}, false
	}
	midpoint := gapStart + (gapEnd-gapStart)/2
	desc, ok := sceneForTime(descriptions, midpoint)
	if !ok {
		return types.TranscriptItem{}, false
	}
	return types.TranscriptItem{
		Start: srt.FormatSeconds(gapStart),
		End:   srt.FormatSeconds(gapEnd),
		Text:  fmt.Sprintf("[Visual Scene: %s]", desc),
	}, true
}

// sceneForTime returns the description of the scene that started most
// recently at or before t; latest start wins.
func sceneForTime(descriptions []types.SceneDescription, t float64) (string, bool) {
	best := -1
	for i, d := range descriptions {
		if d.StartTime > t {
			continue
		}
		if best < 0 || d.StartTime > descriptions[best].StartTime {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return descriptions[best].Description, true
}

func startSeconds(item types.TranscriptItem) float64 {
	s, err := srt.ParseSeconds(item.Start)
	if err != nil {
		return 0
	}
	return s
}
