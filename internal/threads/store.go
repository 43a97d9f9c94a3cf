// Package threads persists conversations as one JSON document per thread and
// serves the durable side of pipeline runs: artifact checkpoints, additive
// usage accounting and the per-thread timeline version counter.
package threads

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/chatcut/internal/types"
)

const interruptedSuffix = " (Interrupted)"

// Store keeps each thread in <dir>/<id>.json. All writes replace the whole
// document atomically (temp file + rename), so a crash never leaves a
// half-written thread behind.
type Store struct {
	dir string
	log zerolog.Logger

	mu sync.Mutex
}

func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread dir: %w", err)
	}
	return &Store{dir: dir, log: log.With().Str("component", "threads").Logger()}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create registers a new thread for a video. TempDir is created under the
// system temp root and owned by the thread for its whole life.
func (s *Store) Create(title, videoPath string) (types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempDir, err := os.MkdirTemp("", "chatcut-")
	if err != nil {
		return types.Thread{}, fmt.Errorf("create temp dir: %w", err)
	}

	now := time.Now().UnixMilli()
	t := types.Thread{
		ID:        uuid.NewString(),
		Title:     title,
		VideoPath: videoPath,
		TempDir:   tempDir,
		Messages:  []types.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.write(t); err != nil {
		return types.Thread{}, err
	}
	s.log.Info().Str("thread", t.ID).Str("video", videoPath).Msg("thread created")
	return t, nil
}

func (s *Store) Get(id string) (types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// List returns all threads sorted by most recently updated first.
func (s *Store) List() ([]types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []types.Thread
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		t, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable thread")
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// Delete removes the thread document and its working directory.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.read(id)
	if err != nil {
		return err
	}
	if t.TempDir != "" {
		if err := os.RemoveAll(t.TempDir); err != nil {
			s.log.Warn().Err(err).Str("thread", id).Msg("remove temp dir")
		}
	}
	return os.Remove(s.path(id))
}

// AddMessage appends a message and returns it with ID and timestamp filled in.
func (s *Store) AddMessage(threadID string, msg types.Message) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	err := s.update(threadID, func(t *types.Thread) error {
		t.Messages = append(t.Messages, msg)
		return nil
	})
	if err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// UpdateMessage applies fn to the message in place.
func (s *Store) UpdateMessage(threadID, messageID string, fn func(m *types.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(threadID, func(t *types.Thread) error {
		for i := range t.Messages {
			if t.Messages[i].ID == messageID {
				fn(&t.Messages[i])
				return nil
			}
		}
		return fmt.Errorf("message %s not found in thread %s", messageID, threadID)
	})
}

// AddUsage merges one generation call's accounting onto a message. Token
// counts and cost are summed with whatever is already there, so repeated
// calls during a run accumulate rather than overwrite.
func (s *Store) AddUsage(threadID, messageID string, rec types.UsageRecord) error {
	return s.UpdateMessage(threadID, messageID, func(m *types.Message) {
		if m.Usage == nil {
			m.Usage = &types.Usage{}
		}
		*m.Usage = m.Usage.Add(rec.Usage)
		m.Cost += rec.Cost
	})
}

// NextVersion increments and returns the thread's timeline version counter.
func (s *Store) NextVersion(threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v int
	err := s.update(threadID, func(t *types.Thread) error {
		t.VersionCounter++
		v = t.VersionCounter
		return nil
	})
	return v, err
}

// SavePreprocessing overlays non-empty artifact paths onto the stored record
// and returns the merged result.
func (s *Store) SavePreprocessing(threadID string, p types.Preprocessing) (types.Preprocessing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merged types.Preprocessing
	err := s.update(threadID, func(t *types.Thread) error {
		t.Preprocessing = t.Preprocessing.Merge(p)
		merged = t.Preprocessing
		return nil
	})
	return merged, err
}

// ResetPending clears the pending flag on every message of the thread,
// marking interrupted AI replies so the transcript records that the run never
// completed. Called at startup before any new run begins.
func (s *Store) ResetPending(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(threadID, func(t *types.Thread) error {
		for i := range t.Messages {
			m := &t.Messages[i]
			if !m.IsPending {
				continue
			}
			m.IsPending = false
			m.Content += interruptedSuffix
		}
		return nil
	})
}

// Context renders the prior conversation as plain text for prompting. AI
// timelines are included as labeled segment lines so a later edit request can
// refer to them.
func (s *Store) Context(threadID string) (string, error) {
	t, err := s.Get(threadID)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(t.Messages))
	for _, m := range t.Messages {
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(string(m.Role)), m.Content)
		if len(m.Timeline) > 0 {
			b.WriteString("\n(AI Generated Timeline):")
			for _, seg := range m.Timeline {
				fmt.Fprintf(&b, "\n[%s - %s] %s", seg.Start, seg.End, seg.Text)
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n"), nil
}

// LatestTimeline returns the most recent AI message carrying a timeline,
// or false when none exists.
func (s *Store) LatestTimeline(threadID string) (types.Message, bool, error) {
	t, err := s.Get(threadID)
	if err != nil {
		return types.Message{}, false, err
	}
	for i := len(t.Messages) - 1; i >= 0; i-- {
		m := t.Messages[i]
		if m.Role == types.RoleAI && len(m.Timeline) > 0 {
			return m, true, nil
		}
	}
	return types.Message{}, false, nil
}

func (s *Store) update(id string, fn func(t *types.Thread) error) error {
	t, err := s.read(id)
	if err != nil {
		return err
	}
	if err := fn(&t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UnixMilli()
	return s.write(t)
}

func (s *Store) read(id string) (types.Thread, error) {
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Thread{}, fmt.Errorf("thread %s not found", id)
		}
		return types.Thread{}, err
	}
	var t types.Thread
	if err := json.Unmarshal(b, &t); err != nil {
		return types.Thread{}, fmt.Errorf("parse thread %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) write(t types.Thread) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, t.ID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(t.ID))
}
