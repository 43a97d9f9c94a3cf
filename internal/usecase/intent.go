package usecase

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/forPelevin/chatcut/internal/config"
	"github.com/forPelevin/chatcut/internal/domain/srt"
	"github.com/forPelevin/chatcut/internal/pipeline"
	"github.com/forPelevin/chatcut/internal/types"
)

const intentSystemInstruction = `
Model Role:
You are an AI assistant for a video editing tool. Your goal is to understand the user's intent based on their latest message, the conversation history, the video transcript, and optionally, a reference timeline (a list of scenes to be extracted from the original video).

Task:
You must decide between two types of actions:
1. "text": Conversational response. Use this for general questions, proposing a summary plan, or asking for final confirmation. This is the DEFAULT and preferred action.
2. "generate-timeline": Signal to actually build the video.

Reference Timeline (Edit Mode):
- If a "REFERENCE TIMELINE" is provided below, it means the user is currently editing an existing summary.
- Your goal is to decide whether to update/modify this timeline or just answer the user's question about it.
- If the user asks to "change", "add", "remove", "extend", or "refine" parts of it, trigger "generate-timeline".

Confirmation Rules (STRICT ENFORCEMENT):
- NEVER trigger "generate-timeline" for suggestive or planning phrases like "let's make a summary", "can you create a highlights clip", "how about a summary", or "I want to see the key moments", etc.
- For any of the above, use "text" to describe what you will include in the summary (e.g. "I will create a 30s summary focusing on [X].") and ask: "Shall I proceed with generating this video?".
- ONLY trigger "generate-timeline" if:
    a) The user gives a direct, unambiguous COMMAND including a duration (e.g., "Generate/Create a 30s video now").
    b) The user explicitly confirms a proposal you just made (e.g., "Yes", "Go ahead", "Do it", "Proceed").
    c) The user explicitly asks to MODIFY the existing REFERENCE TIMELINE (e.g., "Change the middle part to show X", "Make it longer").
- If the user asks "Tell me about the video", provide a detailed text description in the chat and do NOT trigger generation.

Behavioral Guidelines:
- If "generate-timeline" is triggered, you must determine the desired duration in seconds.
  - If specified, use that.
  - If NOT specified, use a reasonable duration based on video length (default 30-60s) or the length of the reference timeline if it exists.

Respond ONLY with a JSON object following this schema:
{
  "type": "text" | "generate-timeline",
  "content": "A detailed description of what to generate (if generate-timeline) OR the final text answer (if text)",
  "duration": number (only if type is "generate-timeline")
}

Specific rules for 'content' field:
- If type is 'text': This is the message shown directly to the user.
- If type is 'generate-timeline': This is a COMPREHENSIVE and DETAILED technical description for the timeline builder agent. It should include all user preferences, specific moments mentioned, style constraints, and context from previous iterations.
- CRITICAL: When editing an existing timeline, specify EXACTLY which parts to keep, remove, or replace. The goal is maximum consistency with the REFERENCE TIMELINE except for the requested changes. It will NOT be shown to the user.`

func intentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":     map[string]any{"type": "string", "enum": []string{"text", "generate-timeline"}},
			"content":  map[string]any{"type": "string"},
			"duration": map[string]any{"type": "number"},
		},
		"required": []string{"type", "content"},
	}
}

// classifyIntent decides whether this turn is a conversational answer or a
// build command. A text intent finishes the run immediately; a generation
// failure falls back to a default build rather than aborting the turn.
func (u Usecase) classifyIntent(ctx context.Context, rc *pipeline.RunContext, data pipeline.Payload) (pipeline.Payload, error) {
	rc.UpdateStatus("Analyzing your request...")

	var transcript []types.TranscriptItem
	if p := rc.Preprocessing.RawTranscriptPath; p != "" {
		if err := readJSON(p, &transcript); err != nil && !os.IsNotExist(err) {
			u.d.Log.Warn().Err(err).Msg("read raw transcript for intent")
		}
	}
	rawSRT := srt.Generate(transcript)

	videoDuration, err := u.d.Media.ProbeDuration(ctx, rc.VideoPath)
	if err != nil {
		return data, fmt.Errorf("probe video duration: %w", err)
	}

	var baseTimelineContext string
	if len(rc.BaseTimeline) > 0 {
		var b strings.Builder
		b.WriteString("\nREFERENCE TIMELINE (The user is editing this):\n")
		for _, s := range rc.BaseTimeline {
			fmt.Fprintf(&b, "• [%s --> %s] (%.1fs): %s\n", s.Start, s.End, s.Duration, s.Text)
		}
		baseTimelineContext = b.String()
	}

	prompt := fmt.Sprintf(`The original video is approximately %.0f seconds long.

%s

START OF TRANSCRIPT (keep in mind as reference):
%s
END OF TRANSCRIPT

Conversation History:
%s
END OF CONVERSATION HISTORY
`, videoDuration, baseTimelineContext, rawSRT, rc.ContextText)

	var result types.IntentResult
	rec, err := u.d.Gen.GenerateStructured(ctx, u.d.Model(config.TaskIntent), prompt, intentSchema(), intentSystemInstruction, &result)
	rc.RecordUsage(rec)
	if err != nil {
		u.d.Log.Error().Err(err).Msg("intent classification failed, falling back to timeline generation")
		rc.Intent = &types.IntentResult{
			Type:     types.IntentTimeline,
			Content:  "Create a video highlighting key moments.",
			Duration: 30,
		}
		return data, nil
	}

	rc.Intent = &result
	if result.Type == types.IntentText {
		rc.Finish(result.Content, pipeline.FinishOptions{})
		return data, nil
	}
	rc.UpdateStatus(fmt.Sprintf("Intent recognized: Generating a %.0fs video...", result.Duration))
	return data, nil
}
