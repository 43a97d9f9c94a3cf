// Package timeline selects transcript segments to satisfy a target duration
// (iterative new builds) or an editing instruction (one-shot edits).
package timeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/forPelevin/chatcut/internal/domain/srt"
	"github.com/forPelevin/chatcut/internal/ports"
	"github.com/forPelevin/chatcut/internal/types"
)

// maxRounds bounds the iterative build; the single non-error termination
// condition other than reaching the target duration is a round that adds zero
// new segments.
const maxRounds = 20

const newSystemInstruction = `You are a video editor assistant.
Your task is to select the next best segments from the full transcript to build a shorter video timeline based on the user's request.
Return ONLY a JSON array of indices (integers) of the selected segments, e.g. [1, 5, 8].
Do not include any other text.`

const editSystemInstruction = `You are a video editor assistant.
The user is editing an existing timeline. You get the full transcript and the current timeline with its original segment indices.
Apply ONLY the requested change: preserve the order and every untouched segment, and change nothing the instruction does not require.
Return ONLY a JSON array with the COMPLETE new list of segment indices, e.g. [2, 5, 9].
Do not include any other text.`

// TextGenerator is the narrow slice of the generation adapter the selection
// algorithm needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, model, prompt, systemInstruction string) (ports.TextResult, error)
}

// Request describes one selection task. Edit mode is chosen iff Base is
// non-empty.
type Request struct {
	Expectation    string
	Segments       []types.TranscriptItem
	TargetDuration float64
	Base           []types.TimelineSegment

	UpdateStatus func(status string)
	RecordUsage  func(rec types.UsageRecord)
}

// Generator runs the selection algorithm against a generation adapter. The
// two model tiers are configuration: a cheaper one for iterative new-build
// picks, a higher-quality one for one-shot edits.
type Generator struct {
	gen       TextGenerator
	newModel  string
	editModel string
	log       zerolog.Logger
}

func New(gen TextGenerator, newModel, editModel string, log zerolog.Logger) Generator {
	return Generator{
		gen:       gen,
		newModel:  newModel,
		editModel: editModel,
		log:       log.With().Str("component", "timeline").Logger(),
	}
}

// Build produces an ordered timeline referencing transcript indices. It never
// returns an error: generation failures degrade to whatever was accumulated
// (new mode) or to the unmodified base (edit mode).
func (g Generator) Build(ctx context.Context, req Request) []types.TimelineSegment {
	if req.UpdateStatus == nil {
		req.UpdateStatus = func(string) {}
	}
	if req.RecordUsage == nil {
		req.RecordUsage = func(types.UsageRecord) {}
	}
	if len(req.Base) > 0 {
		return g.edit(ctx, req)
	}
	return g.buildNew(ctx, req)
}

func (g Generator) buildNew(ctx context.Context, req Request) []types.TimelineSegment {
	fullSRT := srt.Generate(req.Segments)

	current := make([]types.TimelineSegment, len(req.Base))
	copy(current, req.Base)
	currentDuration := totalDuration(current)

	for round := 1; currentDuration < req.TargetDuration && round <= maxRounds; round++ {
		req.UpdateStatus(fmt.Sprintf("Phase 2: Iteration %d - Duration: %.1fs / %.0fs",
			round, currentDuration, req.TargetDuration))

		prompt := fmt.Sprintf(`User Request: %s
Target Duration: %.0f seconds

-----------------
Full timeline (SRT):
%s
-----------------

Current built timeline (%.1fs):
%s

-----------------
Task: Pick the next 3 segments to add to the timeline.
`, req.Expectation, req.TargetDuration, fullSRT, currentDuration, formatTimeline(current))

		res, err := g.gen.GenerateText(ctx, g.newModel, prompt, newSystemInstruction)
		if err != nil {
			// A partial timeline is still useful; never fail the run over a
			// bad round.
			g.log.Error().Err(err).Int("round", round).Msg("generation failed, keeping partial timeline")
			req.UpdateStatus(fmt.Sprintf("Error in AI generation: %v", err))
			break
		}
		req.RecordUsage(res.Record)

		indices := parseIndices(res.Text)
		if len(indices) == 0 {
			g.log.Warn().Int("round", round).Msg("no indices returned, stopping")
			break
		}

		added := 0
		for _, idx := range indices {
			seg, ok := segmentAt(req.Segments, idx)
			if !ok || containsIndex(current, idx) {
				continue
			}
			current = append(current, seg)
			added++
		}
		if added == 0 {
			g.log.Warn().Int("round", round).Msg("all returned indices duplicate or out of range, stopping")
			break
		}
		currentDuration = totalDuration(current)
	}

	return current
}

func (g Generator) edit(ctx context.Context, req Request) []types.TimelineSegment {
	fullSRT := srt.Generate(req.Segments)

	var base strings.Builder
	for _, s := range req.Base {
		fmt.Fprintf(&base, "• index %d [%s --> %s] (%.1fs): %s\n", s.Index, s.Start, s.End, s.Duration, s.Text)
	}

	prompt := fmt.Sprintf(`Edit Instruction: %s

-----------------
Full timeline (SRT):
%s
-----------------

Current timeline (to edit):
%s
-----------------
Task: Return the complete new list of segment indices after applying the instruction.
`, req.Expectation, fullSRT, base.String())

	res, err := g.gen.GenerateText(ctx, g.editModel, prompt, editSystemInstruction)
	if err != nil {
		// Graceful degradation: an edit that cannot be computed leaves the
		// timeline exactly as it was.
		g.log.Error().Err(err).Msg("edit generation failed, returning base timeline unchanged")
		return req.Base
	}
	req.RecordUsage(res.Record)

	indices := parseIndices(res.Text)
	if len(indices) == 0 {
		return req.Base
	}

	var out []types.TimelineSegment
	for _, idx := range indices {
		seg, ok := segmentAt(req.Segments, idx)
		if !ok || containsIndex(out, idx) {
			continue
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return req.Base
	}
	return out
}

var indexListRE = regexp.MustCompile(`\[([\d,\s]+)\]`)

// parseIndices finds the first bracketed comma-separated integer list
// anywhere in the response text, tolerant of preamble and postamble.
func parseIndices(text string) []int {
	m := indexListRE.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var out []int
	for _, part := range strings.Split(m[1], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// segmentAt maps a 1-based transcript index to a timeline segment. Indices
// out of range are rejected.
func segmentAt(segments []types.TranscriptItem, idx int) (types.TimelineSegment, bool) {
	if idx < 1 || idx > len(segments) {
		return types.TimelineSegment{}, false
	}
	item := segments[idx-1]
	dur, err := srt.Duration(item.Start, item.End)
	if err != nil {
		return types.TimelineSegment{}, false
	}
	return types.TimelineSegment{
		Index:    idx,
		Start:    item.Start,
		End:      item.End,
		Text:     item.Text,
		Duration: dur,
	}, true
}

func containsIndex(segments []types.TimelineSegment, idx int) bool {
	for _, s := range segments {
		if s.Index == idx {
			return true
		}
	}
	return false
}

func totalDuration(segments []types.TimelineSegment) float64 {
	sum := 0.0
	for _, s := range segments {
		sum += s.Duration
	}
	return sum
}

func formatTimeline(segments []types.TimelineSegment) string {
	if len(segments) == 0 {
		return "• empty"
	}
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, fmt.Sprintf("• %.1fs duration, %s", s.Duration, s.Text))
	}
	return strings.Join(lines, "\n")
}
