// Package usecase wires the pipeline phases: each step reads durable
// artifacts, calls the adapters, checkpoints its output and hands a typed
// payload to the next step.
package usecase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/ports"
)

type Deps struct {
	Gen    ports.Generator
	Media  ports.Media
	Scenes ports.SceneDetector

	// Model maps a task key to the configured model name.
	Model func(task string) string

	Log zerolog.Logger
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

// Steps returns the full phase sequence in registration order. Skip
// predicates make a re-run resume from the first missing artifact.
func (u Usecase) Steps() []pipeline.Step {
	return []pipeline.Step{
		{Name: "classifyIntent", Run: u.classifyIntent},
		{
			Name: "downscaleVideo",
			Skip: func(rc *pipeline.RunContext) bool { return rc.Preprocessing.LowResVideoPath != "" },
			Run:  u.downscaleVideo,
		},
		{
			Name: "extractAudio",
			Skip: func(rc *pipeline.RunContext) bool { return rc.Preprocessing.AudioPath != "" },
			Run:  u.extractAudio,
		},
		{
			Name: "transcribeAudio",
			Skip: func(rc *pipeline.RunContext) bool { return rc.Preprocessing.RawTranscriptPath != "" },
			Run:  u.transcribeAudio,
		},
		{
			Name: "correctTranscript",
			Skip: func(rc *pipeline.RunContext) bool { return rc.Preprocessing.CorrectedTranscriptPath != "" },
			Run:  u.correctTranscript,
		},
		{
			Name: "detectScenes",
			Skip: func(rc *pipeline.RunContext) bool { return rc.Preprocessing.SceneTimesPath != "" },
			Run:  u.detectScenes,
		},
		{
			Name: "describeScenes",
			Skip: func(rc *pipeline.RunContext) bool { return rc.Preprocessing.SceneDescriptionsPath != "" },
			Run:  u.describeScenes,
		},
		{Name: "buildTimeline", Run: u.buildTimeline},
		{Name: "assembleVideo", Run: u.assembleVideo},
		{Name: "finalize", Run: u.finalize},
	}
}

// workVideo is the path analysis steps should operate on: the low-res
// rendition once it exists, the original otherwise.
func workVideo(rc *pipeline.RunContext) string {
	if rc.Preprocessing.LowResVideoPath != "" {
		return rc.Preprocessing.LowResVideoPath
	}
	return rc.VideoPath
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// progressStatus adapts adapter progress callbacks to status updates,
// throttled to 10% increments so the store is not rewritten on every tick.
func progressStatus(rc *pipeline.RunContext, format string) func(int) {
	last := -1
	return func(pct int) {
		if pct/10 == last {
			return
		}
		last = pct / 10
		rc.UpdateStatus(fmt.Sprintf(format, pct))
	}
}
