package ffmpeg

import (
	"strings"
	"testing"

	"github.com/forPelevin/chatcut/internal/types"
)

func TestBuildFilterGraph_VideoOnly(t *testing.T) {
	t.Parallel()

	segs := []types.TimelineSegment{
		{Index: 1, Start: "00:00:01,000", End: "00:00:03,000"},
		{Index: 5, Start: "00:00:10,500", End: "00:00:12,000"},
	}
	graph, err := buildFilterGraph(segs, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, want := range []string{
		"[0:v]trim=start=1.000:end=3.000,setpts=PTS-STARTPTS[v0];",
		"[0:v]trim=start=10.500:end=12.000,setpts=PTS-STARTPTS[v1];",
		"[v0][v1]concat=n=2:v=1:a=0[outv]",
	} {
		if !strings.Contains(graph, want) {
			t.Fatalf("graph missing %q:\n%s", want, graph)
		}
	}
	if strings.Contains(graph, "atrim") {
		t.Fatalf("video-only graph must not trim audio:\n%s", graph)
	}
}

func TestBuildFilterGraph_WithAudioInterleaves(t *testing.T) {
	t.Parallel()

	segs := []types.TimelineSegment{
		{Index: 1, Start: "00:00:00,000", End: "00:00:02,000"},
	}
	graph, err := buildFilterGraph(segs, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		"[0:a]atrim=start=0.000:end=2.000,asetpts=PTS-STARTPTS[a0];",
		"[v0][a0]concat=n=1:v=1:a=1[outv][outa]",
	} {
		if !strings.Contains(graph, want) {
			t.Fatalf("graph missing %q:\n%s", want, graph)
		}
	}
}

func TestBuildFilterGraph_RejectsInvalidSegments(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		seg  types.TimelineSegment
	}{
		{"end before start", types.TimelineSegment{Start: "00:00:05,000", End: "00:00:02,000"}},
		{"zero length", types.TimelineSegment{Start: "00:00:05,000", End: "00:00:05,000"}},
		{"bad start", types.TimelineSegment{Start: "garbage", End: "00:00:05,000"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := buildFilterGraph([]types.TimelineSegment{tc.seg}, false); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBaseName(t *testing.T) {
	t.Parallel()

	if got := baseName("/videos/my clip.mp4"); got != "my clip" {
		t.Fatalf("baseName = %q", got)
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	if got := tail("abcdef", 3); got != "def" {
		t.Fatalf("tail = %q", got)
	}
	if got := tail("ab", 3); got != "ab" {
		t.Fatalf("tail = %q", got)
	}
}
