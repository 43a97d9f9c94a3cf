package usecase

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/forPelevin/chatcut/internal/config"
	"github.com/forPelevin/chatcut/internal/domain/srt"
	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/ports"
	"github.com/forPelevin/chatcut/internal/types"
)

const (
	rawTranscriptFile       = "raw_transcript.json"
	correctedTranscriptFile = "corrected_transcript.json"
	sceneTimesFile          = "scene_times.json"
	sceneDescriptionsFile   = "scene_descriptions.json"

	// minSceneSeconds filters out cuts too short to yield a useful frame.
	minSceneSeconds = 2.0
)

const transcriptPrompt = `Extract a detailed transcript from the provided audio in SRT (Subtitle) format.

Each entry must strictly follow this format:
1
00:00:01,000 --> 00:00:05,000
Text content here.

2
00:00:05,000 --> 00:00:10,000
Next segment text.

Rules:
- Use HH:MM:SS,mmm format for timestamps.
- Respond ONLY with the SRT content.
- Do not include any preamble, conversational text, or markdown code blocks.`

const correctionPrompt = `The following is an automatically generated transcript in SRT format. It may contain mis-transcribed words, wrong names, or broken punctuation.
Correct the text content of every entry. Keep all indices and timestamps EXACTLY as they are, and keep the number of entries unchanged.
Respond ONLY with the corrected SRT content, no preamble and no markdown code blocks.

%s`

const sceneDescriptionPrompt = `Describe what is visually happening in this video frame in one concise sentence.
Focus on actions, objects and setting. Do not mention that it is a frame or an image.`

// downscaleVideo produces the 480p analysis rendition. Sources already at or
// below 480p are used as-is.
func (u Usecase) downscaleVideo(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Phase 1: Preparing low-resolution video...")

	lowRes := rc.VideoPath
	res, err := u.d.Media.ProbeResolution(ctx, rc.VideoPath)
	if err != nil {
		return data, fmt.Errorf("probe resolution: %w", err)
	}
	if res.Height > 480 {
		lowRes, err = u.d.Media.Downscale(ctx, rc.VideoPath, rc.TempDir,
			progressStatus(rc, "Phase 1: Converting video to low resolution... %d%%"))
		if err != nil {
			return data, fmt.Errorf("downscale: %w", err)
		}
	}

	if err := rc.SavePreprocessing(types.Preprocessing{LowResVideoPath: lowRes}); err != nil {
		return data, err
	}
	data.WorkVideoPath = lowRes
	return data, nil
}

func (u Usecase) extractAudio(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Phase 1: Converting video to audio...")

	audioPath, err := u.d.Media.ExtractAudio(ctx, rc.VideoPath, rc.TempDir,
		progressStatus(rc, "Phase 1: Converting video to audio... %d%%"))
	if err != nil {
		return data, fmt.Errorf("extract audio: %w", err)
	}
	if err := rc.SavePreprocessing(types.Preprocessing{AudioPath: audioPath}); err != nil {
		return data, err
	}
	return data, nil
}

// transcribeAudio uploads the audio track and asks the model for an SRT
// transcript. An unparseable but non-empty reply degrades to one opaque
// segment so downstream phases still have text to work with.
func (u Usecase) transcribeAudio(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Phase 1: Extracting transcript and time data...")

	handle, err := u.d.Gen.UploadFile(ctx, rc.Preprocessing.AudioPath, "audio/mpeg")
	if err != nil {
		return data, fmt.Errorf("upload audio: %w", err)
	}

	res, err := u.d.Gen.GenerateTextFromFiles(ctx, u.d.Model(config.TaskRawTranscript), transcriptPrompt, []ports.FileHandle{handle})
	if err != nil {
		return data, fmt.Errorf("transcribe audio: %w", err)
	}
	rc.RecordUsage(res.Record)

	items := srt.Parse(res.Text)
	if len(items) == 0 && res.Text != "" {
		u.d.Log.Warn().Msg("no segments parsed from transcript response, keeping raw text as one segment")
		items = []types.TranscriptItem{{
			Start: "00:00:00,000",
			End:   "00:00:00,000",
			Text:  res.Text,
		}}
	}

	path := filepath.Join(rc.TempDir, rawTranscriptFile)
	if err := writeJSON(path, items); err != nil {
		return data, fmt.Errorf("persist raw transcript: %w", err)
	}
	if err := rc.SavePreprocessing(types.Preprocessing{RawTranscriptPath: path}); err != nil {
		return data, err
	}
	data.Transcript = items
	return data, nil
}

// correctTranscript runs a cleanup pass over the raw transcript. An empty
// correction falls back to the raw items unchanged.
func (u Usecase) correctTranscript(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Phase 1: Refining transcript...")

	raw := data.Transcript
	if len(raw) == 0 {
		if err := readJSON(rc.Preprocessing.RawTranscriptPath, &raw); err != nil {
			return data, fmt.Errorf("load raw transcript: %w", err)
		}
	}

	corrected := raw
	res, err := u.d.Gen.GenerateText(ctx, u.d.Model(config.TaskCorrectedTranscript),
		fmt.Sprintf(correctionPrompt, srt.Generate(raw)), "")
	if err != nil {
		u.d.Log.Warn().Err(err).Msg("transcript correction failed, keeping raw transcript")
	} else {
		rc.RecordUsage(res.Record)
		if items := srt.Parse(res.Text); len(items) > 0 {
			corrected = items
		} else {
			u.d.Log.Warn().Msg("corrected transcript parsed to zero segments, keeping raw transcript")
		}
	}

	path := filepath.Join(rc.TempDir, correctedTranscriptFile)
	if err := writeJSON(path, corrected); err != nil {
		return data, fmt.Errorf("persist corrected transcript: %w", err)
	}
	if err := rc.SavePreprocessing(types.Preprocessing{CorrectedTranscriptPath: path}); err != nil {
		return data, err
	}
	data.Transcript = corrected
	return data, nil
}

// detectScenes finds shot boundaries in the work video. Detection failure is
// not fatal: the run proceeds without visual enrichment, and the missing
// artifact means a later retry will attempt detection again.
func (u Usecase) detectScenes(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Phase 1: Extracting scene timings...")

	scenes, err := u.d.Scenes.DetectScenes(ctx, workVideo(rc))
	if err != nil {
		u.d.Log.Warn().Err(err).Msg("scene detection failed, continuing without scene data")
		return data, nil
	}

	path := filepath.Join(rc.TempDir, sceneTimesFile)
	if err := writeJSON(path, scenes); err != nil {
		return data, fmt.Errorf("persist scene times: %w", err)
	}
	if err := rc.SavePreprocessing(types.Preprocessing{SceneTimesPath: path}); err != nil {
		return data, err
	}
	data.Scenes = scenes
	return data, nil
}

// describeScenes captures one frame per qualifying scene and asks the model
// what it shows. Per-scene failures are logged and skipped.
func (u Usecase) describeScenes(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	scenes := data.Scenes
	if len(scenes) == 0 && rc.Preprocessing.SceneTimesPath != "" {
		if err := readJSON(rc.Preprocessing.SceneTimesPath, &scenes); err != nil {
			u.d.Log.Warn().Err(err).Msg("load scene times")
		}
	}
	if len(scenes) == 0 {
		return data, nil
	}

	rc.UpdateStatus("Phase 1: Generating scene descriptions...")

	var descriptions []types.SceneDescription
	for i, scene := range scenes {
		if scene.Duration < minSceneSeconds {
			continue
		}
		midpoint := scene.StartTime + scene.Duration/2

		framePath, err := u.d.Media.ExtractFrame(ctx, workVideo(rc), midpoint, rc.TempDir)
		if err != nil {
			u.d.Log.Warn().Err(err).Int("scene", i).Msg("frame extraction failed, skipping scene")
			continue
		}
		handle, err := u.d.Gen.UploadFile(ctx, framePath, "image/jpeg")
		if err != nil {
			u.d.Log.Warn().Err(err).Int("scene", i).Msg("frame upload failed, skipping scene")
			continue
		}
		res, err := u.d.Gen.GenerateTextFromFiles(ctx, u.d.Model(config.TaskSceneDescription),
			sceneDescriptionPrompt, []ports.FileHandle{handle})
		if err != nil {
			u.d.Log.Warn().Err(err).Int("scene", i).Msg("scene description failed, skipping scene")
			continue
		}
		rc.RecordUsage(res.Record)

		descriptions = append(descriptions, types.SceneDescription{
			Index:       i,
			StartTime:   scene.StartTime,
			Description: res.Text,
		})
	}

	path := filepath.Join(rc.TempDir, sceneDescriptionsFile)
	if err := writeJSON(path, descriptions); err != nil {
		return data, fmt.Errorf("persist scene descriptions: %w", err)
	}
	if err := rc.SavePreprocessing(types.Preprocessing{SceneDescriptionsPath: path}); err != nil {
		return data, err
	}
	data.SceneDescriptions = descriptions
	return data, nil
}
