// Package ffmpeg adapts the ffmpeg/ffprobe binaries to the ports.Media
// interface.
package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/forPelevin/chatcut/internal/domain/srt"
	"github.com/forPelevin/chatcut/internal/ports"
	"github.com/forPelevin/chatcut/internal/types"
)

// downscaleHeight is the fixed target height for analysis renditions; width
// follows the aspect ratio, kept even for codec compatibility.
const downscaleHeight = 480

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (a *Adapter) probe(ctx context.Context, path string) (probeResult, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return probeResult{}, fmt.Errorf("ffprobe %s: %w\n%s", filepath.Base(path), err, string(b))
	}
	var res probeResult
	if err := json.Unmarshal(b, &res); err != nil {
		return probeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return res, nil
}

func (a *Adapter) ProbeResolution(ctx context.Context, path string) (ports.Resolution, error) {
	res, err := a.probe(ctx, path)
	if err != nil {
		return ports.Resolution{}, err
	}
	for _, s := range res.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return ports.Resolution{Width: s.Width, Height: s.Height}, nil
		}
	}
	return ports.Resolution{}, fmt.Errorf("no video stream with dimensions in %s", filepath.Base(path))
}

func (a *Adapter) ProbeDuration(ctx context.Context, path string) (float64, error) {
	res, err := a.probe(ctx, path)
	if err != nil {
		return 0, err
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(res.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", res.Format.Duration, err)
	}
	return sec, nil
}

func (a *Adapter) hasAudioStream(ctx context.Context, path string) (bool, error) {
	res, err := a.probe(ctx, path)
	if err != nil {
		return false, err
	}
	for _, s := range res.Streams {
		if s.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}

// Downscale transcodes to a 480p rendition, preserving aspect ratio.
func (a *Adapter) Downscale(ctx context.Context, path, outDir string, onProgress func(int)) (string, error) {
	total, _ := a.ProbeDuration(ctx, path)
	out := filepath.Join(outDir, baseName(path)+fmt.Sprintf("_%dp.mp4", downscaleHeight))
	args := []string{
		"-y",
		"-i", path,
		"-vf", fmt.Sprintf("scale=-2:%d", downscaleHeight),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		out,
	}
	if err := a.run(ctx, args, total, onProgress); err != nil {
		return "", fmt.Errorf("ffmpeg downscale: %w", err)
	}
	return out, nil
}

// ExtractAudio produces an mp3 track from the video.
func (a *Adapter) ExtractAudio(ctx context.Context, path, outDir string, onProgress func(int)) (string, error) {
	total, _ := a.ProbeDuration(ctx, path)
	out := filepath.Join(outDir, baseName(path)+".mp3")
	args := []string{
		"-y",
		"-i", path,
		"-vn",
		"-f", "mp3",
		out,
	}
	if err := a.run(ctx, args, total, onProgress); err != nil {
		return "", fmt.Errorf("ffmpeg extract audio: %w", err)
	}
	return out, nil
}

// ExtractFrame grabs a single frame at the given timestamp.
func (a *Adapter) ExtractFrame(ctx context.Context, path string, timestamp float64, outDir string) (string, error) {
	out := filepath.Join(outDir, fmt.Sprintf("%s_frame_%d.jpg", baseName(path), int(timestamp*1000)))
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(timestamp, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	}
	if err := a.run(ctx, args, 0, nil); err != nil {
		return "", fmt.Errorf("ffmpeg extract frame: %w", err)
	}
	return out, nil
}

// Assemble trims every timeline segment out of the source, resets its
// timestamps, and concatenates the pieces into one output file. Audio is
// included in interleaved order when the source has an audio stream.
func (a *Adapter) Assemble(ctx context.Context, path string, segments []types.TimelineSegment, outDir string, onProgress func(int)) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("assemble: no segments")
	}

	withAudio, err := a.hasAudioStream(ctx, path)
	if err != nil {
		return "", err
	}

	graph, err := buildFilterGraph(segments, withAudio)
	if err != nil {
		return "", err
	}

	out := filepath.Join(outDir, baseName(path)+"_summary.mp4")
	args := []string{
		"-y",
		"-i", path,
		"-filter_complex", graph,
		"-map", "[outv]",
	}
	if withAudio {
		args = append(args, "-map", "[outa]")
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
	)
	if withAudio {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args, out)

	total := 0.0
	for _, seg := range segments {
		total += seg.Duration
	}
	if err := a.run(ctx, args, total, onProgress); err != nil {
		return "", fmt.Errorf("ffmpeg assemble: %w", err)
	}
	return out, nil
}

// buildFilterGraph renders the trim+setpts+concat filter chain for the
// segment list.
func buildFilterGraph(segments []types.TimelineSegment, withAudio bool) (string, error) {
	var b strings.Builder
	for i, seg := range segments {
		start, err := srt.ParseSeconds(seg.Start)
		if err != nil {
			return "", fmt.Errorf("segment %d start: %w", i+1, err)
		}
		end, err := srt.ParseSeconds(seg.End)
		if err != nil {
			return "", fmt.Errorf("segment %d end: %w", i+1, err)
		}
		if end <= start {
			return "", fmt.Errorf("segment %d: end %.3f <= start %.3f", i+1, end, start)
		}

		fmt.Fprintf(&b, "[0:v]trim=start=%.3f:end=%.3f,setpts=PTS-STARTPTS[v%d];", start, end, i)
		if withAudio {
			fmt.Fprintf(&b, "[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS[a%d];", start, end, i)
		}
	}

	for i := range segments {
		fmt.Fprintf(&b, "[v%d]", i)
		if withAudio {
			fmt.Fprintf(&b, "[a%d]", i)
		}
	}
	if withAudio {
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[outv][outa]", len(segments))
	} else {
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=0[outv]", len(segments))
	}
	return b.String(), nil
}

// run executes ffmpeg with machine-readable progress on stdout. Progress is
// best-effort: it needs a known total duration and a callback.
func (a *Adapter) run(ctx context.Context, args []string, totalSeconds float64, onProgress func(int)) error {
	full := append([]string{"-nostats", "-progress", "pipe:1"}, args...)
	cmd := exec.CommandContext(ctx, a.ffmpeg, full...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := sc.Text()
		if onProgress == nil || totalSeconds <= 0 {
			continue
		}
		if v, ok := strings.CutPrefix(line, "out_time_us="); ok {
			if us, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				pct := int(float64(us) / 1e6 / totalSeconds * 100)
				if pct > 100 {
					pct = 100
				}
				onProgress(pct)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w\n%s", err, tail(stderr.String(), 2000))
	}
	return nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
