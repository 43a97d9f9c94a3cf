package threads

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "threads"), zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func createThread(t *testing.T, s *Store) types.Thread {
	t.Helper()
	th, err := s.Create("clip.mp4", "/videos/clip.mp4")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(th.TempDir) })
	return th
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	th := createThread(t, s)
	if th.ID == "" || th.TempDir == "" {
		t.Fatalf("incomplete thread: %+v", th)
	}

	got, err := s.Get(th.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "clip.mp4" || got.VideoPath != "/videos/clip.mp4" {
		t.Fatalf("unexpected thread: %+v", got)
	}
	if got.VersionCounter != 0 || len(got.Messages) != 0 {
		t.Fatalf("expected fresh thread, got %+v", got)
	}
}

func TestGet_MissingThread(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.Get("nope"); err == nil {
		t.Fatalf("expected error for unknown thread")
	}
}

func TestDelete_RemovesDocumentAndTempDir(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	th := createThread(t, s)
	if err := s.Delete(th.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(th.ID); err == nil {
		t.Fatalf("thread still readable after delete")
	}
	if _, err := os.Stat(th.TempDir); !os.IsNotExist(err) {
		t.Fatalf("temp dir not removed: %v", err)
	}
}

func TestAddUsage_IsAdditive(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)

	msg, err := s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "...", IsPending: true})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	if err := s.AddUsage(th.ID, msg.ID, types.UsageRecord{
		Usage: types.Usage{PromptTokens: 100, CandidatesTokens: 50, ThinkingTokens: 25, TotalTokens: 175},
		Cost:  0.10,
	}); err != nil {
		t.Fatalf("add usage: %v", err)
	}
	if err := s.AddUsage(th.ID, msg.ID, types.UsageRecord{
		Usage: types.Usage{PromptTokens: 10, CandidatesTokens: 5, TotalTokens: 15},
		Cost:  0.02,
	}); err != nil {
		t.Fatalf("add usage: %v", err)
	}

	got, _ := s.Get(th.ID)
	u := got.Messages[0].Usage
	if u == nil {
		t.Fatalf("usage not set")
	}
	if u.PromptTokens != 110 || u.CandidatesTokens != 55 || u.ThinkingTokens != 25 || u.TotalTokens != 190 {
		t.Fatalf("usage not additive: %+v", u)
	}
	if cost := got.Messages[0].Cost; cost < 0.119 || cost > 0.121 {
		t.Fatalf("cost not additive: %v", cost)
	}
}

func TestNextVersion_Monotonic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)

	for want := 1; want <= 3; want++ {
		got, err := s.NextVersion(th.ID)
		if err != nil {
			t.Fatalf("next version: %v", err)
		}
		if got != want {
			t.Fatalf("expected version %d, got %d", want, got)
		}
	}
}

func TestSavePreprocessing_MergeAppendOnly(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)

	if _, err := s.SavePreprocessing(th.ID, types.Preprocessing{AudioPath: "/a.mp3"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	merged, err := s.SavePreprocessing(th.ID, types.Preprocessing{RawTranscriptPath: "/t.json"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if merged.AudioPath != "/a.mp3" || merged.RawTranscriptPath != "/t.json" {
		t.Fatalf("merge lost fields: %+v", merged)
	}
}

func TestResetPending_MarksInterrupted(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)

	pending, _ := s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "Phase 1: working...", IsPending: true})
	done, _ := s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "finished earlier"})

	if err := s.ResetPending(th.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}

	got, _ := s.Get(th.ID)
	for _, m := range got.Messages {
		switch m.ID {
		case pending.ID:
			if m.IsPending {
				t.Fatalf("pending flag not cleared")
			}
			if m.Content != "Phase 1: working... (Interrupted)" {
				t.Fatalf("unexpected content: %q", m.Content)
			}
		case done.ID:
			if m.Content != "finished earlier" {
				t.Fatalf("non-pending message modified: %q", m.Content)
			}
		}
	}
}

func TestContext_RendersRolesAndTimelines(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)

	s.AddMessage(th.ID, types.Message{Role: types.RoleUser, Content: "make a summary"})
	s.AddMessage(th.ID, types.Message{
		Role:    types.RoleAI,
		Content: "Here it is.",
		Timeline: []types.TimelineSegment{
			{Index: 1, Start: "00:00:01,000", End: "00:00:05,000", Text: "hello", Duration: 4},
		},
	})

	ctx, err := s.Context(th.ID)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if !strings.Contains(ctx, "USER: make a summary") {
		t.Fatalf("missing user line:\n%s", ctx)
	}
	if !strings.Contains(ctx, "AI: Here it is.") {
		t.Fatalf("missing ai line:\n%s", ctx)
	}
	if !strings.Contains(ctx, "(AI Generated Timeline):") || !strings.Contains(ctx, "[00:00:01,000 - 00:00:05,000] hello") {
		t.Fatalf("missing timeline block:\n%s", ctx)
	}
}

func TestLatestTimeline(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)

	if _, ok, _ := s.LatestTimeline(th.ID); ok {
		t.Fatalf("expected no timeline on a fresh thread")
	}

	s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "v1", Timeline: []types.TimelineSegment{{Index: 1}}})
	s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "v2", Timeline: []types.TimelineSegment{{Index: 2}}})
	s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "just text"})

	m, ok, err := s.LatestTimeline(th.ID)
	if err != nil || !ok {
		t.Fatalf("latest timeline: ok=%v err=%v", ok, err)
	}
	if m.Content != "v2" {
		t.Fatalf("expected most recent timeline message, got %q", m.Content)
	}
}

func TestMessageSink_StatusKeepsPending(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)
	msg, _ := s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "...", IsPending: true})

	sink := NewMessageSink(s)
	if err := sink.Emit(pipeline.Event{Kind: pipeline.StatusUpdate, ThreadID: th.ID, MessageID: msg.ID, Status: "Phase 1: working..."}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	got, _ := s.Get(th.ID)
	if got.Messages[0].Content != "Phase 1: working..." {
		t.Fatalf("status not persisted: %q", got.Messages[0].Content)
	}
	if !got.Messages[0].IsPending {
		t.Fatalf("status update must keep the message pending")
	}
}

func TestMessageSink_FinishedClearsPendingAndAttaches(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)
	msg, _ := s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "...", IsPending: true})

	sink := NewMessageSink(s)
	tl := []types.TimelineSegment{{Index: 1, Start: "00:00:00,000", End: "00:00:05,000", Duration: 5}}
	err := sink.Emit(pipeline.Event{
		Kind:      pipeline.Finished,
		ThreadID:  th.ID,
		MessageID: msg.ID,
		Content:   "Processing complete. Your video summary is ready.",
		File:      &types.Attachment{URL: "/out/summary.mp4", Type: types.FileActual},
		Timeline:  tl,
		Version:   2,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	got, _ := s.Get(th.ID)
	m := got.Messages[0]
	if m.IsPending {
		t.Fatalf("finish must clear pending")
	}
	if len(m.Files) != 1 || m.Files[0].Type != types.FileActual {
		t.Fatalf("attachment missing: %+v", m.Files)
	}
	if len(m.Timeline) != 1 || m.Version != 2 {
		t.Fatalf("timeline/version missing: %+v", m)
	}
}

func TestMessageSink_FailedKeepsPending(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	th := createThread(t, s)
	msg, _ := s.AddMessage(th.ID, types.Message{Role: types.RoleAI, Content: "...", IsPending: true})

	sink := NewMessageSink(s)
	if err := sink.Emit(pipeline.Event{Kind: pipeline.Failed, ThreadID: th.ID, MessageID: msg.ID, Status: "Error: ffmpeg exploded"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	got, _ := s.Get(th.ID)
	if got.Messages[0].Content != "Error: ffmpeg exploded" {
		t.Fatalf("error status not persisted: %q", got.Messages[0].Content)
	}
	if !got.Messages[0].IsPending {
		t.Fatalf("a failed run stays pending until the next reset")
	}
}
