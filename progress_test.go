package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestReportProgressStopsAtCompletion tests that the reporter returns once
// every buffer reaches the target.
func TestReportProgressStopsAtCompletion(t *testing.T) {
	buf, err := openFileBuffer(filepath.Join(t.TempDir(), "p.m4s"), true)
	if err != nil {
		t.Fatalf("openFileBuffer() error = %v", err)
	}
	defer buf.Close()

	content := GenerateFakeContent(2048)
	if err := buf.WriteAt(content, 0); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		reportProgress(context.Background(), nil, []*FileBuffer{buf}, 2048, 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reportProgress did not stop after completion")
	}
}

// TestReportProgressCancellation tests that cancellation stops an idle
// reporter.
func TestReportProgressCancellation(t *testing.T) {
	buf, err := openFileBuffer(filepath.Join(t.TempDir(), "p.m4s"), true)
	if err != nil {
		t.Fatalf("openFileBuffer() error = %v", err)
	}
	defer buf.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reportProgress(ctx, nil, []*FileBuffer{buf}, 1<<30, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reportProgress did not stop after cancellation")
	}
}

// TestDescribeStreams tests the candidate table rendering and selection
// markers.
func TestDescribeStreams(t *testing.T) {
	job := &EpisodeJob{
		Filename: "ep1",
		Videos: []VideoStreamMeta{
			{Codec: "avc", Quality: 80, Width: 1920, Height: 1080, URL: "http://cdn/v0"},
			{Codec: "hevc", Quality: 80, Width: 1920, Height: 1080, URL: "http://cdn/v1", Mirrors: []string{"http://m/v1"}},
		},
		Audios: []AudioStreamMeta{
			{Codec: "mp4a", Quality: 30280, URL: "http://cdn/a0"},
		},
	}

	lines := describeStreams(job, &job.Videos[1], &job.Audios[0])
	joined := strings.Join(lines, "\n")

	AssertTrue(t, strings.Contains(joined, "2 video stream(s):"), "video header present")
	AssertTrue(t, strings.Contains(joined, "1 audio stream(s):"), "audio header present")
	AssertTrue(t, strings.Contains(joined, "HEVC"), "codec rendered upper case")
	AssertTrue(t, strings.Contains(joined, "#2"), "mirror count includes primary")

	var marked int
	for _, line := range lines {
		if strings.HasPrefix(line, "*") {
			marked++
		}
	}
	if marked != 2 {
		t.Errorf("marked lines = %d, want 2 (one per selected stream)", marked)
	}
}

// TestDescribeStreamsEmpty tests the empty-candidate wording.
func TestDescribeStreamsEmpty(t *testing.T) {
	job := &EpisodeJob{Filename: "ep1"}
	lines := describeStreams(job, nil, nil)
	joined := strings.Join(lines, "\n")
	AssertTrue(t, strings.Contains(joined, "no video streams available"), "video absence reported")
	AssertTrue(t, strings.Contains(joined, "no audio streams available"), "audio absence reported")
}
