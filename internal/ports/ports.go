package ports

import (
	"context"

	"github.com/forPelevin/chatcut/internal/types"
)

// TextResult is the outcome of one plain-text generation call.
type TextResult struct {
	Text   string
	Record types.UsageRecord
}

// FileHandle references a file previously uploaded to the generation service.
type FileHandle struct {
	URI      string
	MimeType string
}

// Generator wraps a text/JSON/file-grounded generation API. Structured calls
// retry internally (up to 3 times) on JSON-parse failure and accumulate usage
// across attempts. Every returned record carries token counts and the derived
// monetary cost.
type Generator interface {
	GenerateText(ctx context.Context, model, prompt, systemInstruction string) (TextResult, error)
	GenerateStructured(ctx context.Context, model, prompt string, schema map[string]any, systemInstruction string, out any) (types.UsageRecord, error)
	UploadFile(ctx context.Context, path, mimeType string) (FileHandle, error)
	GenerateTextFromFiles(ctx context.Context, model, prompt string, files []FileHandle) (TextResult, error)
	GenerateStructuredFromFiles(ctx context.Context, model, prompt string, files []FileHandle, schema map[string]any, out any) (types.UsageRecord, error)
}

// Resolution of a video stream.
type Resolution struct {
	Width  int
	Height int
}

// Media wraps probing, transcoding, audio/frame extraction and
// filter-graph-based multi-segment assembly.
type Media interface {
	ProbeResolution(ctx context.Context, path string) (Resolution, error)
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Downscale(ctx context.Context, path, outDir string, onProgress func(percent int)) (string, error)
	ExtractAudio(ctx context.Context, path, outDir string, onProgress func(percent int)) (string, error)
	ExtractFrame(ctx context.Context, path string, timestamp float64, outDir string) (string, error)
	Assemble(ctx context.Context, path string, segments []types.TimelineSegment, outDir string, onProgress func(percent int)) (string, error)
}

// SceneDetector wraps shot-boundary detection. Implementations must return
// scenes sorted ascending by start time and internally consistent, and must
// error when the underlying tool is unavailable, exits non-zero, or produces
// unparseable output.
type SceneDetector interface {
	DetectScenes(ctx context.Context, path string) ([]types.Scene, error)
}
