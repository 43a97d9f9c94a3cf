package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/chatcut/internal/config"
	"github.com/forPelevin/chatcut/internal/logging"
	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/ports"
	"github.com/forPelevin/chatcut/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/chatcut/internal/ports/adapters/gemini"
	"github.com/forPelevin/chatcut/internal/ports/adapters/scenedetect"
	"github.com/forPelevin/chatcut/internal/threads"
	"github.com/forPelevin/chatcut/internal/types"
	"github.com/forPelevin/chatcut/internal/usecase"
)

// runDeadline bounds one pipeline turn end to end.
const runDeadline = 3 * time.Hour

func openStore(configPath string) (*threads.Store, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := threads.NewStore(filepath.Join(cfg.DataDir, "threads"), logging.WithComponent("threads"))
	if err != nil {
		return nil, config.Config{}, err
	}
	return store, cfg, nil
}

func runNew(cmd *cobra.Command, configPath, video string) error {
	store, _, err := openStore(configPath)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(video)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("stat video: %w", err)
	}

	t, err := store.Create(filepath.Base(abs), abs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created thread %s (%s)\n", t.ID, t.Title)
	return nil
}

func runList(cmd *cobra.Command, configPath string) error {
	store, _, err := openStore(configPath)
	if err != nil {
		return err
	}
	list, err := store.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no threads")
		return nil
	}
	for _, t := range list {
		updated := time.UnixMilli(t.UpdatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d messages  updated %s\n", t.ID, t.Title, len(t.Messages), updated)
	}
	return nil
}

func runDelete(cmd *cobra.Command, configPath, threadID string) error {
	store, _, err := openStore(configPath)
	if err != nil {
		return err
	}
	if err := store.Delete(threadID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted thread %s\n", threadID)
	return nil
}

func runSend(cmd *cobra.Command, configPath, threadID, text string, edit bool) error {
	store, cfg, err := openStore(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// A previous run may have died mid-pipeline; mark its messages before
	// this turn adds new ones.
	if err := store.ResetPending(threadID); err != nil {
		return err
	}
	thread, err := store.Get(threadID)
	if err != nil {
		return err
	}

	var baseTimeline []types.TimelineSegment
	var editMessageID string
	if edit {
		m, ok, err := store.LatestTimeline(threadID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("thread %s has no generated timeline to edit", threadID)
		}
		baseTimeline = m.Timeline
		editMessageID = m.ID
	}

	if _, err := store.AddMessage(threadID, types.Message{Role: types.RoleUser, Content: text}); err != nil {
		return err
	}
	contextText, err := store.Context(threadID)
	if err != nil {
		return err
	}
	aiMsg, err := store.AddMessage(threadID, types.Message{Role: types.RoleAI, Content: "...", IsPending: true})
	if err != nil {
		return err
	}

	media := ffmpeg.New(cfg.Binaries.FFmpeg, cfg.Binaries.FFprobe)
	gen := gemini.New(cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Pricing)
	scenes := scenedetect.New(cfg.Binaries.SceneDetect)

	uc := usecase.New(usecase.Deps{
		Gen:    gen,
		Media:  media,
		Scenes: scenes,
		Model:  cfg.Model,
		Log:    logging.WithComponent("usecase"),
	})

	rc := &pipeline.RunContext{
		ThreadID:      thread.ID,
		MessageID:     aiMsg.ID,
		VideoPath:     thread.VideoPath,
		TempDir:       thread.TempDir,
		Preprocessing: thread.Preprocessing,
		ContextText:   contextText,
		BaseTimeline:  baseTimeline,
		EditMessageID: editMessageID,
	}

	sink := pipeline.MultiSink{
		threads.NewMessageSink(store),
		consoleSink(cmd),
	}
	engine := pipeline.New(rc, store, sink, logging.WithComponent("pipeline"))
	for _, step := range uc.Steps() {
		engine.Register(step)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), runDeadline)
	defer cancel()

	engine.Run(ctx, pipeline.Payload{WorkVideoPath: thread.VideoPath})
	return nil
}

// consoleSink mirrors run events to the terminal.
func consoleSink(cmd *cobra.Command) pipeline.Sink {
	out := cmd.OutOrStdout()
	return pipeline.SinkFunc(func(ev pipeline.Event) error {
		switch ev.Kind {
		case pipeline.StatusUpdate, pipeline.Failed:
			fmt.Fprintln(out, ev.Status)
		case pipeline.Finished:
			fmt.Fprintln(out, ev.Content)
			if ev.File != nil {
				fmt.Fprintf(out, "video: %s\n", ev.File.URL)
			}
			if len(ev.Timeline) > 0 {
				fmt.Fprintf(out, "timeline (%d segments, v%d):\n", len(ev.Timeline), ev.Version)
				for _, s := range ev.Timeline {
					fmt.Fprintf(out, "  [%s --> %s] (%.1fs) %s\n", s.Start, s.End, s.Duration, s.Text)
				}
			}
		}
		return nil
	})
}

var _ ports.Media = (*ffmpeg.Adapter)(nil)
var _ ports.Generator = (*gemini.Adapter)(nil)
var _ ports.SceneDetector = (*scenedetect.Adapter)(nil)
