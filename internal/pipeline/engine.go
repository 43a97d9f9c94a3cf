// Package pipeline implements the step orchestrator: an ordered list of
// asynchronous steps executed strictly sequentially against a shared run
// context, with per-step skip predicates, durable artifact checkpointing and
// live progress events.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/forPelevin/chatcut/internal/types"
)

// Payload is the step-to-step data bag, threaded by value. It holds
// unpersisted in-flight objects only; durable artifact paths live in the
// thread's preprocessing record. A skipped step passes the payload through
// unchanged.
type Payload struct {
	// WorkVideoPath is the video steps should feed to analysis (the low-res
	// rendition once produced). Assembly always uses the original.
	WorkVideoPath string

	Transcript        []types.TranscriptItem
	Scenes            []types.Scene
	SceneDescriptions []types.SceneDescription
	Timeline          []types.TimelineSegment
	AssembledPath     string
}

// Store is the narrow slice of the thread store the engine needs for durable
// state that is not a message event: artifact checkpoints and the per-thread
// version counter. Both are whole-document atomic writes.
type Store interface {
	SavePreprocessing(threadID string, p types.Preprocessing) (types.Preprocessing, error)
	NextVersion(threadID string) (int, error)
}

// StepFunc runs one phase. It returns the payload for the next step, or an
// error which terminates the whole run.
type StepFunc func(ctx context.Context, rc *RunContext, data Payload) (Payload, error)

// Step is one registered phase with an optional skip predicate, evaluated
// immediately before the step runs.
type Step struct {
	Name string
	Skip func(rc *RunContext) bool
	Run  StepFunc
}

// FinishOptions carries the optional parts of a terminal finish.
type FinishOptions struct {
	File          *types.Attachment
	Timeline      []types.TimelineSegment
	AssignVersion bool
}

// RunContext is the contract exposed to every step. The read-only fields
// describe the run; Intent is the single mutable slot written once by the
// classification step and read thereafter.
type RunContext struct {
	ThreadID  string
	MessageID string

	// VideoPath is the original uploaded video.
	VideoPath string
	// TempDir is the per-thread working directory for artifacts.
	TempDir string
	// Preprocessing is the artifact record as of the start of the run, kept
	// current as steps checkpoint.
	Preprocessing types.Preprocessing
	// ContextText is the prior conversation rendered as text.
	ContextText string
	// BaseTimeline is the edit reference, empty for new builds.
	BaseTimeline []types.TimelineSegment
	// EditMessageID identifies the message the base timeline came from.
	EditMessageID string

	// Intent is set once by intent classification.
	Intent *types.IntentResult

	store    Store
	sink     Sink
	log      zerolog.Logger
	finished bool
}

// UpdateStatus pushes a live status event; the store sink persists it onto
// the message as a non-terminal update. May be called any number of times.
func (rc *RunContext) UpdateStatus(status string) {
	rc.log.Info().Str("status", status).Msg("pipeline status")
	rc.emit(Event{Kind: StatusUpdate, ThreadID: rc.ThreadID, MessageID: rc.MessageID, Status: status})
}

// SavePreprocessing merges new artifact paths into durable storage
// immediately, so a later run can resume from here.
func (rc *RunContext) SavePreprocessing(p types.Preprocessing) error {
	merged, err := rc.store.SavePreprocessing(rc.ThreadID, p)
	if err != nil {
		return fmt.Errorf("save preprocessing: %w", err)
	}
	rc.Preprocessing = merged
	return nil
}

// RecordUsage additively persists token/cost accounting for one generation
// call and emits a live usage event.
func (rc *RunContext) RecordUsage(rec types.UsageRecord) {
	rc.emit(Event{Kind: UsageUpdate, ThreadID: rc.ThreadID, MessageID: rc.MessageID, Record: rec})
}

// Finish terminates the run with the final content. Exactly one finish is
// allowed per run; later calls are ignored. After a step finishes, the engine
// stops advancing.
func (rc *RunContext) Finish(content string, opts FinishOptions) {
	if rc.finished {
		rc.log.Warn().Msg("finish called more than once; ignoring")
		return
	}
	rc.finished = true

	version := 0
	if opts.AssignVersion {
		v, err := rc.store.NextVersion(rc.ThreadID)
		if err != nil {
			rc.log.Error().Err(err).Msg("assign version")
		} else {
			version = v
		}
	}

	rc.emit(Event{
		Kind:      Finished,
		ThreadID:  rc.ThreadID,
		MessageID: rc.MessageID,
		Content:   content,
		File:      opts.File,
		Timeline:  opts.Timeline,
		Version:   version,
	})
}

func (rc *RunContext) emit(ev Event) {
	if err := rc.sink.Emit(ev); err != nil {
		rc.log.Warn().Err(err).Str("event", ev.Kind.String()).Msg("sink emit failed")
	}
}

// Engine executes registered steps in order, one at a time.
type Engine struct {
	steps []Step
	rc    *RunContext
	log   zerolog.Logger
}

// New builds an engine around a run context. The context's mutable channels
// (status, preprocessing, usage, finish) are wired to the given store and
// event sink.
func New(rc *RunContext, store Store, sink Sink, log zerolog.Logger) *Engine {
	rc.store = store
	rc.sink = sink
	rc.log = log.With().Str("component", "pipeline").Str("thread", rc.ThreadID).Logger()
	return &Engine{rc: rc, log: rc.log}
}

// Register appends a step. Steps run in registration order, never in
// parallel: each step may depend on side effects of the previous one (file
// existence), not just the payload.
func (e *Engine) Register(s Step) *Engine {
	e.steps = append(e.steps, s)
	return e
}

// Run drives the step sequence. Any error from a step is caught here,
// reported as an error-prefixed status plus a Failed event, and stops the
// run without calling finish. The run is left resumable: every checkpoint
// already written stays valid.
func (e *Engine) Run(ctx context.Context, initial Payload) {
	data := initial
	for _, step := range e.steps {
		if e.rc.finished {
			return
		}
		if step.Skip != nil && step.Skip(e.rc) {
			e.log.Info().Str("step", step.Name).Msg("step skipped")
			continue
		}

		e.log.Info().Str("step", step.Name).Msg("step start")
		next, err := step.Run(ctx, e.rc, data)
		if err != nil {
			e.log.Error().Err(err).Str("step", step.Name).Msg("step failed")
			e.rc.emit(Event{
				Kind:      Failed,
				ThreadID:  e.rc.ThreadID,
				MessageID: e.rc.MessageID,
				Status:    fmt.Sprintf("Error: %v", err),
			})
			return
		}
		data = next
	}
}
