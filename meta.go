package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Video quality tiers, best first. Mirrors the remote service's tier codes.
var videoQualityLadder = []int{127, 126, 125, 120, 116, 112, 80, 74, 64, 32, 16}

var videoQualityNames = map[int]string{
	127: "8K",
	126: "Dolby Vision",
	125: "HDR",
	120: "4K",
	116: "1080P60",
	112: "1080P+",
	80:  "1080P",
	74:  "720P60",
	64:  "720P",
	32:  "480P",
	16:  "360P",
}

// Audio quality tiers, best first.
var audioQualityLadder = []int{30251, 30280, 30232, 30216}

var audioQualityNames = map[int]string{
	30251: "Hi-Res",
	30280: "320kbps",
	30232: "128kbps",
	30216: "64kbps",
}

const (
	defaultVideoQuality = 127
	defaultAudioQuality = 30280
)

var (
	defaultVideoCodecPrefs = []string{"avc", "hevc", "av1"}
	defaultAudioCodecPrefs = []string{"mp4a", "fLaC", "ec-3"}
)

// VideoStreamMeta describes one downloadable video elementary stream.
// Produced by the extractor layer; read-only here.
type VideoStreamMeta struct {
	Codec   string   `json:"codec"`
	Quality int      `json:"quality"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	URL     string   `json:"url"`
	Mirrors []string `json:"mirrors"`
}

// AudioStreamMeta describes one downloadable audio elementary stream.
type AudioStreamMeta struct {
	Codec   string   `json:"codec"`
	Quality int      `json:"quality"`
	URL     string   `json:"url"`
	Mirrors []string `json:"mirrors"`
}

// urls returns the primary URL followed by mirrors, the fetch order.
func (v *VideoStreamMeta) urls() []string {
	return append([]string{v.URL}, v.Mirrors...)
}

func (a *AudioStreamMeta) urls() []string {
	return append([]string{a.URL}, a.Mirrors...)
}

// SidecarFile is an opaque payload (subtitle, danmaku, description file)
// written next to the output. The core never parses these.
type SidecarFile struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// EpisodeJob is the unit of work: candidate streams for one episode plus the
// destinations and sidecar payloads.
type EpisodeJob struct {
	Filename  string            `json:"filename"`
	Videos    []VideoStreamMeta `json:"videos"`
	Audios    []AudioStreamMeta `json:"audios"`
	Sidecars  []SidecarFile     `json:"sidecars"`
	TmpDir    string            `json:"-"`
	OutputDir string            `json:"-"`
}

// DownloadOptions is the engine configuration for one run.
type DownloadOptions struct {
	NumWorkers      int
	BlockSize       int64
	Overwrite       bool
	VideoQuality    int
	AudioQuality    int
	VideoCodecPrefs []string
	AudioCodecPrefs []string
	// OutputFormat and AudioOnlyFormat are extensions without the dot, or
	// "infer" to derive from the selected streams.
	OutputFormat    string
	AudioOnlyFormat string
	RequireVideo    bool
	RequireAudio    bool
}

func defaultOptions() DownloadOptions {
	return DownloadOptions{
		NumWorkers:      8,
		BlockSize:       defaultBlockSize,
		VideoQuality:    defaultVideoQuality,
		AudioQuality:    defaultAudioQuality,
		VideoCodecPrefs: defaultVideoCodecPrefs,
		AudioCodecPrefs: defaultAudioCodecPrefs,
		OutputFormat:    "infer",
		AudioOnlyFormat: "infer",
		RequireVideo:    true,
		RequireAudio:    true,
	}
}

// loadEpisodeJobs reads an episode manifest: either a single job object or an
// array of them. The manifest is the boundary with the extractor layer.
func loadEpisodeJobs(path string) ([]EpisodeJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var jobs []EpisodeJob
		if err := json.Unmarshal(data, &jobs); err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}
		return jobs, validateJobs(jobs, path)
	}

	var job EpisodeJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	jobs := []EpisodeJob{job}
	return jobs, validateJobs(jobs, path)
}

func validateJobs(jobs []EpisodeJob, path string) error {
	for i, job := range jobs {
		if job.Filename == "" {
			return fmt.Errorf("manifest %s: job %d has no filename", path, i)
		}
		for j, v := range job.Videos {
			if v.URL == "" {
				return fmt.Errorf("manifest %s: job %q video %d has no url", path, job.Filename, j)
			}
		}
		for j, a := range job.Audios {
			if a.URL == "" {
				return fmt.Errorf("manifest %s: job %q audio %d has no url", path, job.Filename, j)
			}
		}
	}
	return nil
}

// parseCodecPrefs parses a comma-separated codec preference list.
func parseCodecPrefs(s string, defaults []string) []string {
	if s == "" {
		return defaults
	}
	parts := strings.Split(s, ",")
	prefs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			prefs = append(prefs, p)
		}
	}
	if len(prefs) == 0 {
		return defaults
	}
	return prefs
}
