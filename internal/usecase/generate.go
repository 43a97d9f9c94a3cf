package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/forPelevin/chatcut/internal/config"
	"github.com/forPelevin/chatcut/internal/domain/timeline"
	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/types"
)

const defaultTargetSeconds = 30

// buildTimeline runs the segment selection algorithm over the enriched
// transcript. An empty result finishes the run with an explanation instead of
// assembling nothing.
func (u Usecase) buildTimeline(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Phase 2: Building shorter timeline...")

	if rc.Preprocessing.CorrectedTranscriptPath == "" {
		return data, errors.New("corrected transcript artifact is missing, cannot build a timeline")
	}
	transcript := data.Transcript
	if len(transcript) == 0 {
		if err := readJSON(rc.Preprocessing.CorrectedTranscriptPath, &transcript); err != nil {
			return data, fmt.Errorf("load corrected transcript: %w", err)
		}
	}

	descriptions := data.SceneDescriptions
	if len(descriptions) == 0 && rc.Preprocessing.SceneDescriptionsPath != "" {
		if err := readJSON(rc.Preprocessing.SceneDescriptionsPath, &descriptions); err != nil {
			u.d.Log.Warn().Err(err).Msg("load scene descriptions")
		}
	}

	totalDuration, err := u.d.Media.ProbeDuration(ctx, rc.VideoPath)
	if err != nil {
		u.d.Log.Warn().Err(err).Msg("probe duration for enrichment, skipping trailing gap")
		totalDuration = 0
	}
	enriched := timeline.Enrich(transcript, descriptions, totalDuration)

	intent := rc.Intent
	if intent == nil {
		intent = &types.IntentResult{
			Type:     types.IntentTimeline,
			Content:  "Create a video highlighting key moments.",
			Duration: defaultTargetSeconds,
		}
	}
	target := intent.Duration
	if target <= 0 {
		target = defaultTargetSeconds
	}

	gen := timeline.New(u.d.Gen, u.d.Model(config.TaskTimelineNew), u.d.Model(config.TaskTimelineEdit), u.d.Log)
	result := gen.Build(ctx, timeline.Request{
		Expectation:    intent.Content,
		Segments:       enriched,
		TargetDuration: target,
		Base:           rc.BaseTimeline,
		UpdateStatus:   rc.UpdateStatus,
		RecordUsage:    rc.RecordUsage,
	})

	if len(result) == 0 {
		rc.Finish("I could not select any segments for this request. Try rephrasing it or choosing a different duration.",
			pipeline.FinishOptions{Timeline: []types.TimelineSegment{}})
		return data, nil
	}

	data.Timeline = result
	return data, nil
}

// assembleVideo cuts the selected segments out of the original (full
// resolution) video and concatenates them.
func (u Usecase) assembleVideo(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Phase 3: Splitting video based on timeline...")

	out, err := u.d.Media.Assemble(ctx, rc.VideoPath, data.Timeline, rc.TempDir,
		progressStatus(rc, "Phase 3: Joining video parts... %d%%"))
	if err != nil {
		return data, fmt.Errorf("assemble video: %w", err)
	}
	data.AssembledPath = out
	return data, nil
}

func (u Usecase) finalize(_ context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.Finish("Processing complete. Your video summary is ready.", pipeline.FinishOptions{
		File:          &types.Attachment{URL: data.AssembledPath, Type: types.FileActual},
		Timeline:      data.Timeline,
		AssignVersion: true,
	})
	return data, nil
}
