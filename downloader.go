package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

const progressInterval = 500 * time.Millisecond

// jobOutcome is the terminal result of processing one episode.
type jobOutcome int

const (
	outcomeDone jobOutcome = iota
	// outcomeSkipped: output already exists and overwrite is off. Not an error.
	outcomeSkipped
	// outcomeNothingToDo: no stream was both selected and required. Reported
	// as a warning, not an error.
	outcomeNothingToDo
)

func (o jobOutcome) String() string {
	switch o {
	case outcomeSkipped:
		return "skipped, output exists"
	case outcomeNothingToDo:
		return "nothing to download"
	default:
		return "done"
	}
}

// Orchestrator sequences selection, download, merge and cleanup for episode
// jobs, delegating transfers to the shared Fetcher and muxing to FFmpeg.
type Orchestrator struct {
	fetcher *Fetcher
	ffmpeg  *FFmpeg
	options DownloadOptions
	program *tea.Program
}

func NewOrchestrator(fetcher *Fetcher, ffmpeg *FFmpeg, options DownloadOptions, program *tea.Program) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		ffmpeg:  ffmpeg,
		options: options,
		program: program,
	}
}

func (o *Orchestrator) send(msg tea.Msg) {
	if o.program != nil {
		o.program.Send(msg)
	}
}

// ProcessEpisode runs one job through the full state sequence. Partial
// stream files are intentionally left in the tmp dir on failure so a future
// run can resume them.
func (o *Orchestrator) ProcessEpisode(ctx context.Context, job *EpisodeJob) (jobOutcome, error) {
	if err := os.MkdirAll(job.TmpDir, 0755); err != nil {
		return outcomeDone, fmt.Errorf("failed to create tmp directory: %w", err)
	}
	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return outcomeDone, fmt.Errorf("failed to create output directory: %w", err)
	}

	videoPath := filepath.Join(job.TmpDir, job.Filename+"_video.m4s")
	audioPath := filepath.Join(job.TmpDir, job.Filename+"_audio.m4s")

	video := selectVideo(job.Videos, o.options.VideoQuality, o.options.VideoCodecPrefs)
	audio := selectAudio(job.Audios, o.options.AudioQuality, o.options.AudioCodecPrefs)
	willDownloadVideo := video != nil && o.options.RequireVideo
	willDownloadAudio := audio != nil && o.options.RequireAudio
	if !willDownloadVideo {
		video = nil
	}
	if !willDownloadAudio {
		audio = nil
	}

	o.send(streamInfoMsg(describeStreams(job, video, audio)))

	outputPath := filepath.Join(job.OutputDir, job.Filename+o.outputExtension(willDownloadVideo, audio))

	if err := o.writeSidecars(job); err != nil {
		return outcomeDone, err
	}

	if _, err := os.Stat(outputPath); err == nil {
		if !o.options.Overwrite {
			return outcomeSkipped, nil
		}
		if err := os.Remove(outputPath); err != nil {
			return outcomeDone, fmt.Errorf("failed to remove existing output %s: %w", outputPath, err)
		}
	}

	if !willDownloadVideo && !willDownloadAudio {
		return outcomeNothingToDo, nil
	}

	if err := o.downloadStreams(ctx, video, videoPath, audio, audioPath); err != nil {
		return outcomeDone, err
	}

	videoSaveCodec, audioSaveCodec := o.saveCodecs(video, audio)
	spec := buildMergeSpec(video, videoPath, audio, audioPath, videoSaveCodec, audioSaveCodec, outputPath)
	if err := o.ffmpeg.Merge(ctx, spec); err != nil {
		return outcomeDone, err
	}

	// Stream files are gone after a successful merge; drop the job's tmp dir
	// when nothing else is left in it.
	os.Remove(job.TmpDir)

	return outcomeDone, nil
}

// downloadStreams opens the buffers, plans the remaining blocks and runs the
// fetch tasks of both streams interleaved under the shared limiter, with the
// progress reporter alongside. The first unrecovered fetch failure cancels
// the sibling tasks.
func (o *Orchestrator) downloadStreams(ctx context.Context, video *VideoStreamMeta, videoPath string,
	audio *AudioStreamMeta, audioPath string) error {

	var buffers []*FileBuffer
	var totalSize int64
	var videoTasks, audioTasks []func(context.Context) error

	defer func() {
		for _, buf := range buffers {
			buf.Close()
		}
	}()

	type streamPlan struct {
		urls []string
		path string
	}
	plans := make([]streamPlan, 0, 2)
	if video != nil {
		plans = append(plans, streamPlan{urls: video.urls(), path: videoPath})
	}
	if audio != nil {
		plans = append(plans, streamPlan{urls: audio.urls(), path: audioPath})
	}

	expected := make(map[*FileBuffer]int64)
	for i, plan := range plans {
		buf, err := openFileBuffer(plan.path, o.options.Overwrite)
		if err != nil {
			return err
		}
		buffers = append(buffers, buf)

		size, err := o.fetcher.RemoteSize(ctx, plan.urls[0])
		if err != nil {
			return err
		}
		if size != unboundedSize {
			totalSize += size
			expected[buf] = size
		}

		blocks, err := planBlocks(buf.WrittenSize(), size, o.options.BlockSize)
		if err != nil {
			return err
		}

		tasks := make([]func(context.Context) error, 0, len(blocks))
		urls := plan.urls
		for _, blk := range blocks {
			blk := blk
			tasks = append(tasks, func(taskCtx context.Context) error {
				return o.fetcher.DownloadBlock(taskCtx, urls, buf, blk.start, blk.size)
			})
		}
		if i == 0 && video != nil {
			videoTasks = tasks
		} else {
			audioTasks = tasks
		}
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go reportProgress(progressCtx, o.program, buffers, totalSize, progressInterval)

	g, taskCtx := errgroup.WithContext(ctx)
	// Round-robin interleave so neither stream starves the other under the
	// shared limiter.
	for _, task := range xmerge(videoTasks, audioTasks) {
		task := task
		g.Go(func() error {
			return task(taskCtx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	for _, buf := range buffers {
		if size, ok := expected[buf]; ok && buf.WrittenSize() != size {
			return fmt.Errorf("incomplete stream %s: %d of %d bytes", buf.Path(), buf.WrittenSize(), size)
		}
		if err := buf.Close(); err != nil {
			return err
		}
	}
	return nil
}

// xmerge interleaves two task lists round-robin, preserving order within
// each list.
func xmerge[T any](a, b []T) []T {
	merged := make([]T, 0, len(a)+len(b))
	for len(a) > 0 || len(b) > 0 {
		if len(a) > 0 {
			merged = append(merged, a[0])
			a = a[1:]
		}
		if len(b) > 0 {
			merged = append(merged, b[0])
			b = b[1:]
		}
	}
	return merged
}

// outputExtension derives the container extension. Video output defaults to
// mp4, switching to mkv when FLAC audio rides along (MP4 cannot carry FLAC).
// Audio-only output infers flac for FLAC sources and falls back to aac for
// everything else.
func (o *Orchestrator) outputExtension(willDownloadVideo bool, audio *AudioStreamMeta) string {
	if !willDownloadVideo {
		if o.options.AudioOnlyFormat != "infer" {
			return "." + o.options.AudioOnlyFormat
		}
		if audio != nil && audio.Codec == "fLaC" {
			return ".flac"
		}
		return ".aac"
	}
	if o.options.OutputFormat != "infer" {
		return "." + o.options.OutputFormat
	}
	if audio != nil && audio.Codec == "fLaC" {
		return ".mkv"
	}
	return ".mp4"
}

// saveCodecs resolves the requested save codecs: the first codec preference
// acts as the target, and buildMergeSpec rewrites matches to "copy".
func (o *Orchestrator) saveCodecs(video *VideoStreamMeta, audio *AudioStreamMeta) (string, string) {
	videoSave := ""
	if video != nil {
		videoSave = video.Codec
		if len(o.options.VideoCodecPrefs) > 0 {
			videoSave = o.options.VideoCodecPrefs[0]
		}
	}
	audioSave := ""
	if audio != nil {
		audioSave = audio.Codec
		if len(o.options.AudioCodecPrefs) > 0 {
			audioSave = o.options.AudioCodecPrefs[0]
		}
	}
	return videoSave, audioSave
}

// writeSidecars stores the job's opaque payloads next to the output stem.
func (o *Orchestrator) writeSidecars(job *EpisodeJob) error {
	for _, sc := range job.Sidecars {
		if sc.Name == "" {
			continue
		}
		path := filepath.Join(job.OutputDir, sc.Name)
		if err := os.WriteFile(path, []byte(sc.Data), 0644); err != nil {
			return fmt.Errorf("failed to write sidecar %s: %w", sc.Name, err)
		}
	}
	return nil
}
