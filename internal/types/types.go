package types

// TranscriptItem is one timed text entry of a transcript. Start and End are
// timecodes normalized to HH:MM:SS,mmm. Items are immutable once created; a
// correction pass produces a brand-new list.
type TranscriptItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Text  string `json:"text"`
}

// Scene is a visually-detected shot boundary span, in seconds.
// Invariant: Duration == EndTime-StartTime (within 0.1s of any externally
// reported value), StartTime >= 0, sorted non-decreasing by StartTime.
type Scene struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Duration  float64 `json:"duration"`
}

// SceneDescription describes a representative frame of one qualifying scene.
type SceneDescription struct {
	Index       int     `json:"index"`
	StartTime   float64 `json:"startTime"`
	Description string  `json:"description"`
}

// TimelineSegment references one transcript entry by its 1-based index.
// Duplicate indices are forbidden within one timeline.
type TimelineSegment struct {
	Index    int     `json:"index"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// Intent types produced by the classification step.
const (
	IntentText     = "text"
	IntentTimeline = "generate-timeline"
)

// IntentResult is the outcome of intent classification for one run.
// Type decides whether the generation phases execute at all.
type IntentResult struct {
	Type     string  `json:"type"`
	Content  string  `json:"content"`
	Duration float64 `json:"duration,omitempty"`
}

// Usage holds token counts accumulated onto a message.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CandidatesTokens int `json:"candidatesTokens"`
	ThinkingTokens   int `json:"thinkingTokens,omitempty"`
	TotalTokens      int `json:"totalTokens"`
}

// UsageRecord is the usage plus derived monetary cost of a single
// generation call.
type UsageRecord struct {
	Usage Usage   `json:"usage"`
	Cost  float64 `json:"cost"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CandidatesTokens: u.CandidatesTokens + o.CandidatesTokens,
		ThinkingTokens:   u.ThinkingTokens + o.ThinkingTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

type MessageRole string

const (
	RoleUser MessageRole = "user"
	RoleAI   MessageRole = "ai"
)

type FileType string

const (
	FileOriginal FileType = "original"
	FilePreview  FileType = "preview"
	FileActual   FileType = "actual"
)

// Attachment is a media reference carried by a message.
type Attachment struct {
	URL  string   `json:"url"`
	Type FileType `json:"type"`
}

// Message is one conversational unit. An AI message is created pending and
// mutated in place (status text, then final content) as the run progresses.
type Message struct {
	ID        string            `json:"id"`
	Role      MessageRole       `json:"role"`
	Content   string            `json:"content"`
	IsPending bool              `json:"isPending"`
	Files     []Attachment      `json:"files,omitempty"`
	Timeline  []TimelineSegment `json:"timeline,omitempty"`
	Usage     *Usage            `json:"usage,omitempty"`
	Cost      float64           `json:"cost,omitempty"`
	Version   int               `json:"version,omitempty"`
	CreatedAt int64             `json:"createdAt"`
}

// Preprocessing maps artifact kinds to filesystem locations for one thread.
// Populated incrementally as pipeline steps complete; entries are only ever
// appended, never deleted.
type Preprocessing struct {
	AudioPath               string `json:"audioPath,omitempty"`
	LowResVideoPath         string `json:"lowResVideoPath,omitempty"`
	RawTranscriptPath       string `json:"rawTranscriptPath,omitempty"`
	CorrectedTranscriptPath string `json:"correctedTranscriptPath,omitempty"`
	SceneTimesPath          string `json:"sceneTimesPath,omitempty"`
	SceneDescriptionsPath   string `json:"sceneDescriptionsPath,omitempty"`
}

// Merge overlays the non-empty fields of p onto base and returns the result.
func (base Preprocessing) Merge(p Preprocessing) Preprocessing {
	out := base
	if p.AudioPath != "" {
		out.AudioPath = p.AudioPath
	}
	if p.LowResVideoPath != "" {
		out.LowResVideoPath = p.LowResVideoPath
	}
	if p.RawTranscriptPath != "" {
		out.RawTranscriptPath = p.RawTranscriptPath
	}
	if p.CorrectedTranscriptPath != "" {
		out.CorrectedTranscriptPath = p.CorrectedTranscriptPath
	}
	if p.SceneTimesPath != "" {
		out.SceneTimesPath = p.SceneTimesPath
	}
	if p.SceneDescriptionsPath != "" {
		out.SceneDescriptionsPath = p.SceneDescriptionsPath
	}
	return out
}

// Thread is one conversation around one uploaded video.
type Thread struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	VideoPath      string        `json:"videoPath"`
	Preprocessing  Preprocessing `json:"preprocessing"`
	TempDir        string        `json:"tempDir"`
	Messages       []Message     `json:"messages"`
	VersionCounter int           `json:"versionCounter"`
	CreatedAt      int64         `json:"createdAt"`
	UpdatedAt      int64         `json:"updatedAt"`
}
