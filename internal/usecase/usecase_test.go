package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/ports"
	"github.com/forPelevin/chatcut/internal/types"
)

const testSRT = `1
00:00:00,000 --> 00:00:05,000
First spoken segment.

2
00:00:05,000 --> 00:00:10,000
Second spoken segment.

3
00:00:10,000 --> 00:00:15,000
Third spoken segment.
`

type fakeGen struct {
	intentJSON   string
	intentErr    error
	timelinePick string
	uploads      []string
}

func (f *fakeGen) GenerateText(_ context.Context, _ string, prompt, system string) (ports.TextResult, error) {
	rec := types.UsageRecord{Usage: types.Usage{PromptTokens: 10, TotalTokens: 10}, Cost: 0.01}
	if strings.Contains(system, "video editor assistant") {
		if f.timelinePick == "" {
			return ports.TextResult{}, errors.New("timeline generation down")
		}
		return ports.TextResult{Text: f.timelinePick, Record: rec}, nil
	}
	if strings.Contains(prompt, "automatically generated transcript") {
		return ports.TextResult{Text: testSRT, Record: rec}, nil
	}
	return ports.TextResult{Text: "ok", Record: rec}, nil
}

func (f *fakeGen) GenerateStructured(_ context.Context, _ string, _ string, _ map[string]any, _ string, out any) (types.UsageRecord, error) {
	rec := types.UsageRecord{Usage: types.Usage{PromptTokens: 20, TotalTokens: 20}, Cost: 0.02}
	if f.intentErr != nil {
		return rec, f.intentErr
	}
	res, ok := out.(*types.IntentResult)
	if !ok {
		return rec, fmt.Errorf("unexpected out type %T", out)
	}
	switch {
	case strings.Contains(f.intentJSON, "generate-timeline"):
		*res = types.IntentResult{Type: types.IntentTimeline, Content: "Create a highlight of the key parts.", Duration: 10}
	default:
		*res = types.IntentResult{Type: types.IntentText, Content: f.intentJSON}
	}
	return rec, nil
}

func (f *fakeGen) UploadFile(_ context.Context, path, mimeType string) (ports.FileHandle, error) {
	f.uploads = append(f.uploads, mimeType)
	return ports.FileHandle{URI: "files/" + filepath.Base(path), MimeType: mimeType}, nil
}

func (f *fakeGen) GenerateTextFromFiles(_ context.Context, _ string, prompt string, _ []ports.FileHandle) (ports.TextResult, error) {
	rec := types.UsageRecord{Usage: types.Usage{PromptTokens: 10, TotalTokens: 10}, Cost: 0.01}
	if strings.Contains(prompt, "Extract a detailed transcript") {
		return ports.TextResult{Text: testSRT, Record: rec}, nil
	}
	return ports.TextResult{Text: "a beach at sunset", Record: rec}, nil
}

func (f *fakeGen) GenerateStructuredFromFiles(_ context.Context, _ string, _ string, _ []ports.FileHandle, _ map[string]any, _ any) (types.UsageRecord, error) {
	return types.UsageRecord{}, errors.New("not used")
}

type fakeMedia struct {
	height         int
	duration       float64
	downscales     int
	audioExtracts  int
	frameExtracts  int
	assembleCalls  int
	assembledSegs  []types.TimelineSegment
	assembleResult string
}

func (f *fakeMedia) ProbeResolution(context.Context, string) (ports.Resolution, error) {
	return ports.Resolution{Width: 1920, Height: f.height}, nil
}

func (f *fakeMedia) ProbeDuration(context.Context, string) (float64, error) {
	return f.duration, nil
}

func (f *fakeMedia) Downscale(_ context.Context, _ string, outDir string, _ func(int)) (string, error) {
	f.downscales++
	return filepath.Join(outDir, "low.mp4"), nil
}

func (f *fakeMedia) ExtractAudio(_ context.Context, _ string, outDir string, _ func(int)) (string, error) {
	f.audioExtracts++
	return filepath.Join(outDir, "audio.mp3"), nil
}

func (f *fakeMedia) ExtractFrame(_ context.Context, _ string, ts float64, outDir string) (string, error) {
	f.frameExtracts++
	return filepath.Join(outDir, fmt.Sprintf("frame_%.0f.jpg", ts*1000)), nil
}

func (f *fakeMedia) Assemble(_ context.Context, _ string, segs []types.TimelineSegment, outDir string, _ func(int)) (string, error) {
	f.assembleCalls++
	f.assembledSegs = segs
	if f.assembleResult == "" {
		f.assembleResult = filepath.Join(outDir, "summary.mp4")
	}
	return f.assembleResult, nil
}

type fakeScenes struct {
	scenes []types.Scene
	err    error
	calls  int
}

func (f *fakeScenes) DetectScenes(context.Context, string) ([]types.Scene, error) {
	f.calls++
	return f.scenes, f.err
}

type memStore struct {
	pre     types.Preprocessing
	version int
}

func (s *memStore) SavePreprocessing(_ string, p types.Preprocessing) (types.Preprocessing, error) {
	s.pre = s.pre.Merge(p)
	return s.pre, nil
}

func (s *memStore) NextVersion(string) (int, error) {
	s.version++
	return s.version, nil
}

type captureSink struct{ events []pipeline.Event }

func (c *captureSink) Emit(ev pipeline.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) last() pipeline.Event {
	if len(c.events) == 0 {
		return pipeline.Event{}
	}
	return c.events[len(c.events)-1]
}

type fixture struct {
	gen    *fakeGen
	media  *fakeMedia
	scenes *fakeScenes
	store  *memStore
	sink   *captureSink
	rc     *pipeline.RunContext
}

func newFixture(t *testing.T, pre types.Preprocessing) *fixture {
	t.Helper()
	return &fixture{
		gen: &fakeGen{
			intentJSON:   `{"type":"generate-timeline"}`,
			timelinePick: "[1, 2]",
		},
		media:  &fakeMedia{height: 1080, duration: 100},
		scenes: &fakeScenes{scenes: []types.Scene{{StartTime: 0, EndTime: 5, Duration: 5}}},
		store:  &memStore{},
		sink:   &captureSink{},
		rc: &pipeline.RunContext{
			ThreadID:      "t1",
			MessageID:     "m1",
			VideoPath:     "/videos/in.mp4",
			TempDir:       t.TempDir(),
			Preprocessing: pre,
		},
	}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	uc := New(Deps{
		Gen:    f.gen,
		Media:  f.media,
		Scenes: f.scenes,
		Model:  func(string) string { return "test-model" },
		Log:    zerolog.Nop(),
	})
	engine := pipeline.New(f.rc, f.store, f.sink, zerolog.Nop())
	for _, s := range uc.Steps() {
		engine.Register(s)
	}
	engine.Run(context.Background(), pipeline.Payload{WorkVideoPath: f.rc.VideoPath})
}

func TestRun_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	f.run(t)

	last := f.sink.last()
	if last.Kind != pipeline.Finished {
		t.Fatalf("expected Finished, got %v (events: %d)", last.Kind, len(f.sink.events))
	}
	if last.Content != "Processing complete. Your video summary is ready." {
		t.Fatalf("unexpected content: %q", last.Content)
	}
	if last.File == nil || last.File.Type != types.FileActual {
		t.Fatalf("expected actual video attachment, got %+v", last.File)
	}
	if len(last.Timeline) != 2 {
		t.Fatalf("expected 2 timeline segments, got %+v", last.Timeline)
	}
	if last.Version != 1 {
		t.Fatalf("expected version 1, got %d", last.Version)
	}

	if f.media.downscales != 1 || f.media.audioExtracts != 1 || f.media.assembleCalls != 1 {
		t.Fatalf("unexpected media calls: %+v", f.media)
	}
	if f.scenes.calls != 1 {
		t.Fatalf("expected one scene detection, got %d", f.scenes.calls)
	}
	if f.media.frameExtracts != 1 {
		t.Fatalf("expected one frame extraction, got %d", f.media.frameExtracts)
	}

	pre := f.store.pre
	if pre.AudioPath == "" || pre.LowResVideoPath == "" || pre.RawTranscriptPath == "" ||
		pre.CorrectedTranscriptPath == "" || pre.SceneTimesPath == "" || pre.SceneDescriptionsPath == "" {
		t.Fatalf("expected all artifacts checkpointed: %+v", pre)
	}
}

func TestRun_TextIntentShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	f.gen.intentJSON = "The video is about sailing."
	f.run(t)

	last := f.sink.last()
	if last.Kind != pipeline.Finished || last.Content != "The video is about sailing." {
		t.Fatalf("expected text finish, got %+v", last)
	}
	if f.media.downscales != 0 || f.media.audioExtracts != 0 || f.media.assembleCalls != 0 {
		t.Fatalf("generation phases must not run for a text intent: %+v", f.media)
	}
}

func TestRun_ResumeSkipsCompletedPhases(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})

	// Pre-populate every artifact the way a finished preprocessing pass
	// would have.
	tmp := f.rc.TempDir
	raw := filepath.Join(tmp, rawTranscriptFile)
	corrected := filepath.Join(tmp, correctedTranscriptFile)
	times := filepath.Join(tmp, sceneTimesFile)
	descs := filepath.Join(tmp, sceneDescriptionsFile)

	items := []types.TranscriptItem{
		{Start: "00:00:00,000", End: "00:00:05,000", Text: "a"},
		{Start: "00:00:05,000", End: "00:00:10,000", Text: "b"},
	}
	mustWriteJSON(t, raw, items)
	mustWriteJSON(t, corrected, items)
	mustWriteJSON(t, times, []types.Scene{})
	mustWriteJSON(t, descs, []types.SceneDescription{})

	f.rc.Preprocessing = types.Preprocessing{
		AudioPath:               filepath.Join(tmp, "audio.mp3"),
		LowResVideoPath:         filepath.Join(tmp, "low.mp4"),
		RawTranscriptPath:       raw,
		CorrectedTranscriptPath: corrected,
		SceneTimesPath:          times,
		SceneDescriptionsPath:   descs,
	}
	f.run(t)

	if f.media.downscales != 0 || f.media.audioExtracts != 0 {
		t.Fatalf("completed phases re-ran: %+v", f.media)
	}
	if f.scenes.calls != 0 {
		t.Fatalf("scene detection re-ran")
	}
	if len(f.gen.uploads) != 0 {
		t.Fatalf("no uploads expected on a fully preprocessed thread, got %v", f.gen.uploads)
	}
	if f.sink.last().Kind != pipeline.Finished {
		t.Fatalf("expected a finished run, got %v", f.sink.last().Kind)
	}
}

func TestRun_LowResSourceSkipsTranscode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	f.media.height = 360
	f.run(t)

	if f.media.downscales != 0 {
		t.Fatalf("a 360p source must not be transcoded")
	}
	if f.store.pre.LowResVideoPath != f.rc.VideoPath {
		t.Fatalf("expected source path as low-res rendition, got %q", f.store.pre.LowResVideoPath)
	}
}

func TestRun_SceneDetectionFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	f.scenes.err = errors.New("scenedetect missing")
	f.scenes.scenes = nil
	f.run(t)

	if f.sink.last().Kind != pipeline.Finished {
		t.Fatalf("run must finish without scene data, got %v", f.sink.last().Kind)
	}
	if f.store.pre.SceneTimesPath != "" {
		t.Fatalf("failed detection must not checkpoint an artifact")
	}
}

func TestRun_EmptyTimelineFinishesWithoutAssembly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	f.gen.timelinePick = "no picks today"
	f.run(t)

	last := f.sink.last()
	if last.Kind != pipeline.Finished {
		t.Fatalf("expected a finish, got %v", last.Kind)
	}
	if !strings.Contains(last.Content, "could not select") {
		t.Fatalf("unexpected content: %q", last.Content)
	}
	if len(last.Timeline) != 0 {
		t.Fatalf("expected an empty timeline, got %+v", last.Timeline)
	}
	if f.media.assembleCalls != 0 {
		t.Fatalf("assembly must not run for an empty timeline")
	}
}

func TestRun_IntentFailureFallsBackToGeneration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	f.gen.intentErr = errors.New("model unavailable")
	f.run(t)

	if f.sink.last().Kind != pipeline.Finished {
		t.Fatalf("fallback intent must still produce a video, got %v", f.sink.last().Kind)
	}
	if f.media.assembleCalls != 1 {
		t.Fatalf("expected assembly under fallback intent")
	}
}

func TestBuildTimeline_MissingCorrectedTranscriptFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	uc := New(Deps{
		Gen:    f.gen,
		Media:  f.media,
		Scenes: f.scenes,
		Model:  func(string) string { return "test-model" },
		Log:    zerolog.Nop(),
	})

	engine := pipeline.New(f.rc, f.store, f.sink, zerolog.Nop())
	engine.Register(pipeline.Step{Name: "buildTimeline", Run: uc.buildTimeline})
	engine.Run(context.Background(), pipeline.Payload{})

	last := f.sink.last()
	if last.Kind != pipeline.Failed {
		t.Fatalf("expected a failure, got %v", last.Kind)
	}
	if !strings.Contains(last.Status, "corrected transcript") {
		t.Fatalf("unexpected failure status: %q", last.Status)
	}
}

func TestRun_EditModeUsesBaseTimeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.Preprocessing{})
	f.rc.BaseTimeline = []types.TimelineSegment{
		{Index: 3, Start: "00:00:10,000", End: "00:00:15,000", Text: "Third spoken segment.", Duration: 5},
	}
	f.gen.timelinePick = "[1, 3]"
	f.run(t)

	last := f.sink.last()
	if last.Kind != pipeline.Finished {
		t.Fatalf("expected finished, got %v", last.Kind)
	}
	if len(last.Timeline) != 2 || last.Timeline[0].Index != 1 || last.Timeline[1].Index != 3 {
		t.Fatalf("unexpected edited timeline: %+v", last.Timeline)
	}
	if f.media.assembleCalls != 1 {
		t.Fatalf("expected assembly of the edited timeline")
	}
}

func mustWriteJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := writeJSON(path, v); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
