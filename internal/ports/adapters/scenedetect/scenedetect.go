// Package scenedetect adapts the PySceneDetect CLI to the
// ports.SceneDetector interface.
package scenedetect

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/forPelevin/chatcut/internal/types"
)

const (
	contentThreshold = 27.0
	csvFilename      = "scenes.csv"

	// durationTolerance bounds how far the CSV-reported length may drift from
	// end-start before the computed value wins.
	durationTolerance = 0.1
)

type Adapter struct {
	bin string
}

func New(binPath string) *Adapter {
	if binPath == "" {
		binPath = "scenedetect"
	}
	return &Adapter{bin: binPath}
}

// Available reports whether the CLI responds to its version command.
func (a *Adapter) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, a.bin, "version").Run() == nil
}

// DetectScenes runs content detection and parses the scene list CSV.
// Returned scenes are validated: non-negative, internally consistent within
// the duration tolerance, and sorted ascending by start time.
func (a *Adapter) DetectScenes(ctx context.Context, path string) ([]types.Scene, error) {
	outDir, err := os.MkdirTemp("", "scenedetect-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	args := []string{
		"-i", path,
		"detect-content",
		"-t", strconv.FormatFloat(contentThreshold, 'f', 1, 64),
		"list-scenes",
		"-o", outDir,
		"-f", csvFilename,
		"--skip-cuts",
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("scenedetect failed for %q: %w\n%s", path, err, strings.TrimSpace(string(b)))
	}

	csvPath, err := locateCSV(outDir, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(csvPath)
	if err != nil {
		return nil, err
	}
	return parseCSV(string(content))
}

// locateCSV tries the explicit filename, then the tool's default naming
// convention, then any CSV in the output directory.
func locateCSV(outDir, videoPath string) (string, error) {
	explicit := filepath.Join(outDir, csvFilename)
	if _, err := os.Stat(explicit); err == nil {
		return explicit, nil
	}

	name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	fallback := filepath.Join(outDir, name+"-Scenes.csv")
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".csv") {
			return filepath.Join(outDir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no CSV found in scenedetect output for %q (dir: %s)", videoPath, outDir)
}

// parseCSV matches columns by header name so extra or reordered columns do
// not break parsing.
func parseCSV(content string) ([]types.Scene, error) {
	var lines []string
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSuffix(l, "\r"))
		}
	}
	if len(lines) < 2 {
		return nil, nil
	}

	headers := strings.Split(lines[0], ",")
	startIdx := findColumn(headers, "start time (seconds)", "start time", "start")
	endIdx := findColumn(headers, "end time (seconds)", "end time", "end")
	durationIdx := findColumn(headers, "length (seconds)", "length", "duration (seconds)", "duration")

	if startIdx < 0 || endIdx < 0 {
		return nil, fmt.Errorf("scene CSV missing required columns, headers: [%s]", strings.Join(headers, ", "))
	}

	var scenes []types.Scene
	prevStart := 0.0
	for i := 1; i < len(lines); i++ {
		cols := strings.Split(lines[i], ",")
		row := i + 1

		start, err := column(cols, startIdx, row, "start")
		if err != nil {
			return nil, err
		}
		end, err := column(cols, endIdx, row, "end")
		if err != nil {
			return nil, err
		}

		// end-start is canonical; the reported length is only trusted when it
		// agrees within tolerance.
		duration := end - start
		if durationIdx >= 0 && durationIdx < len(cols) {
			if reported, err := parseTimecode(cols[durationIdx]); err == nil {
				if abs(reported-duration) <= durationTolerance {
					duration = reported
				}
			}
		}

		if start < 0 {
			return nil, fmt.Errorf("scene CSV row %d: negative start time %.3f", row, start)
		}
		if duration < 0 {
			return nil, fmt.Errorf("scene CSV row %d: negative duration %.3f (start=%.3f end=%.3f)", row, duration, start, end)
		}
		if start < prevStart {
			return nil, fmt.Errorf("scene CSV row %d: start time %.3f before previous %.3f", row, start, prevStart)
		}
		prevStart = start

		scenes = append(scenes, types.Scene{StartTime: start, EndTime: end, Duration: duration})
	}
	return scenes, nil
}

func column(cols []string, idx, row int, name string) (float64, error) {
	if idx >= len(cols) || strings.TrimSpace(cols[idx]) == "" {
		return 0, fmt.Errorf("scene CSV row %d: missing %s value", row, name)
	}
	v, err := parseTimecode(cols[idx])
	if err != nil {
		return 0, fmt.Errorf("scene CSV row %d, column %s: %w", row, name, err)
	}
	return v, nil
}

// parseTimecode accepts HH:MM:SS.mmm, MM:SS.mmm, or plain seconds.
func parseTimecode(value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("empty value")
	}
	if !strings.Contains(trimmed, ":") {
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric value %q", trimmed)
		}
		return n, nil
	}

	parts := strings.Split(trimmed, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("unexpected timecode format %q", trimmed)
	}
	total := 0.0
	for _, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timecode value %q", trimmed)
		}
		total = total*60 + n
	}
	return total, nil
}

func findColumn(headers []string, candidates ...string) int {
	for _, cand := range candidates {
		for i, h := range headers {
			if strings.EqualFold(strings.TrimSpace(h), cand) {
				return i
			}
		}
	}
	return -1
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
