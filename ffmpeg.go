package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// FFmpeg invokes the external muxer that combines the downloaded elementary
// streams into the final container.
type FFmpeg struct {
	// Bin is the muxer executable, overridable for tests.
	Bin string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{Bin: "ffmpeg"}
}

// MergeSpec is the resolved invocation: inputs, codec directives and the
// output path. Built by buildMergeArgs, consumed once by Merge.
type MergeSpec struct {
	VideoPath  string // empty when no video stream was downloaded
	AudioPath  string // empty when no audio stream was downloaded
	VideoCodec string // "copy" or a named codec
	AudioCodec string
	VideoTag   string // container tag for the video track, empty for none
	OutputPath string
}

// buildMergeSpec resolves codec directives for the selected streams. A save
// codec matching the source codec becomes "copy" so no re-encoding happens,
// and an HEVC track passed through unchanged is tagged hvc1 so the container
// plays on Apple devices.
func buildMergeSpec(video *VideoStreamMeta, videoPath string, audio *AudioStreamMeta, audioPath string,
	videoSaveCodec, audioSaveCodec, outputPath string) MergeSpec {

	spec := MergeSpec{OutputPath: outputPath}

	if video != nil {
		spec.VideoPath = videoPath
		spec.VideoCodec = videoSaveCodec
		if video.Codec == videoSaveCodec {
			spec.VideoCodec = "copy"
		}
		if spec.VideoCodec == "copy" && video.Codec == "hevc" {
			spec.VideoTag = "hvc1"
		}
	}

	if audio != nil {
		spec.AudioPath = audioPath
		spec.AudioCodec = audioSaveCodec
		if audio.Codec == audioSaveCodec {
			spec.AudioCodec = "copy"
		}
	}

	return spec
}

// buildMergeArgs assembles the muxer argument list: one input and one codec
// directive per present stream, the strict-compatibility flag, the optional
// video tag, a thread-count hint, and overwrite-output-always semantics.
func buildMergeArgs(spec MergeSpec) []string {
	var args []string

	if spec.VideoPath != "" {
		args = append(args, "-i", spec.VideoPath)
	}
	if spec.AudioPath != "" {
		args = append(args, "-i", spec.AudioPath)
	}
	if spec.VideoPath != "" {
		args = append(args, "-vcodec", spec.VideoCodec)
	}
	if spec.AudioPath != "" {
		args = append(args, "-acodec", spec.AudioCodec)
	}
	args = append(args, "-strict", "unofficial")
	if spec.VideoTag != "" {
		args = append(args, "-tag:v", spec.VideoTag)
	}
	args = append(args, "-threads", strconv.Itoa(runtime.NumCPU()))
	args = append(args, "-y", spec.OutputPath)

	return args
}

// Merge runs the muxer once for the spec. On success the per-stream temp
// files are deleted; on failure they are preserved for inspection and resume,
// and the muxer's diagnostic output is surfaced in the error.
func (f *FFmpeg) Merge(ctx context.Context, spec MergeSpec) error {
	cmd := exec.CommandContext(ctx, f.Bin, buildMergeArgs(spec)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("muxer failed: %w, output: %s", err, string(out))
	}

	if spec.VideoPath != "" {
		os.Remove(spec.VideoPath)
	}
	if spec.AudioPath != "" {
		os.Remove(spec.AudioPath)
	}
	return nil
}
