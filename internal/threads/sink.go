package threads

import (
	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/types"
)

// MessageSink persists pipeline events onto the run's AI message. Status and
// failure updates keep the message pending so an interrupted run is still
// detectable; only a finish clears the flag.
type MessageSink struct {
	store *Store
}

func NewMessageSink(store *Store) *MessageSink {
	return &MessageSink{store: store}
}

func (s *MessageSink) Emit(ev pipeline.Event) error {
	switch ev.Kind {
	case pipeline.StatusUpdate:
		return s.store.UpdateMessage(ev.ThreadID, ev.MessageID, func(m *types.Message) {
			m.Content = ev.Status
		})
	case pipeline.UsageUpdate:
		return s.store.AddUsage(ev.ThreadID, ev.MessageID, ev.Record)
	case pipeline.Finished:
		return s.store.UpdateMessage(ev.ThreadID, ev.MessageID, func(m *types.Message) {
			m.Content = ev.Content
			m.IsPending = false
			if ev.File != nil {
				m.Files = append(m.Files, *ev.File)
			}
			if len(ev.Timeline) > 0 {
				m.Timeline = ev.Timeline
			}
			if ev.Version > 0 {
				m.Version = ev.Version
			}
		})
	case pipeline.Failed:
		return s.store.UpdateMessage(ev.ThreadID, ev.MessageID, func(m *types.Message) {
			m.Content = ev.Status
		})
	}
	return nil
}
