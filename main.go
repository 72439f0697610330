package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "", "Episode manifest JSON produced by the extractor layer")
		workers      = flag.Int("workers", defaultWorkers, "Number of concurrent connections")
		blockSize    = flag.String("block", "", "Block size (e.g. 4M, 1M; default 4M)")
		outputDir    = flag.String("output", ".", "Output directory for merged files")
		tmpDir       = flag.String("tmp", "", "Directory for partial stream files (default: output directory)")
		proxyURL     = flag.String("proxy", "", "HTTP proxy URL (e.g., http://proxy:8080)")
		bandwidth    = flag.String("limit", "", "Bandwidth limit (e.g., 1M, 500K, 2.5M)")
		videoQuality = flag.Int("video-quality", defaultVideoQuality, "Preferred video quality tier")
		audioQuality = flag.Int("audio-quality", defaultAudioQuality, "Preferred audio quality tier")
		videoCodecs  = flag.String("video-codec", "", "Video codec preference order, comma separated (default avc,hevc,av1)")
		audioCodecs  = flag.String("audio-codec", "", "Audio codec preference order, comma separated (default mp4a,fLaC,ec-3)")
		outputFormat = flag.String("format", "infer", "Output container extension, or 'infer'")
		audioFormat  = flag.String("audio-format", "infer", "Audio-only output extension, or 'infer'")
		noVideo      = flag.Bool("no-video", false, "Skip the video stream")
		noAudio      = flag.Bool("no-audio", false, "Skip the audio stream")
		overwrite    = flag.Bool("overwrite", false, "Discard existing output and partial files")
		verbose      = flag.Bool("verbose", false, "Log retries and mirror failovers")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("yutto %s\n", Version)
		fmt.Println("A resumable block-parallel media stream downloader and merger")
		os.Exit(0)
	}

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: yutto -manifest <episodes.json> [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fmt.Fprintln(os.Stderr, "  -manifest FILE      Episode manifest JSON (single job or array)")
		fmt.Fprintln(os.Stderr, "  -workers N          Concurrent connections (default: 8)")
		fmt.Fprintln(os.Stderr, "  -block SIZE         Block size per range request (default: 4M)")
		fmt.Fprintln(os.Stderr, "  -output DIR         Output directory")
		fmt.Fprintln(os.Stderr, "  -tmp DIR            Partial file directory")
		fmt.Fprintln(os.Stderr, "  -limit RATE         Bandwidth limit (e.g., 1M, 500K)")
		fmt.Fprintln(os.Stderr, "  -video-quality N    Quality tier (127/126/125/120/116/112/80/74/64/32/16)")
		fmt.Fprintln(os.Stderr, "  -audio-quality N    Quality tier (30251/30280/30232/30216)")
		fmt.Fprintln(os.Stderr, "  -video-codec LIST   Codec preference (avc,hevc,av1)")
		fmt.Fprintln(os.Stderr, "  -audio-codec LIST   Codec preference (mp4a,fLaC,ec-3)")
		fmt.Fprintln(os.Stderr, "  -no-video/-no-audio Skip a stream type")
		fmt.Fprintln(os.Stderr, "  -overwrite          Restart instead of resuming partial files")
		os.Exit(1)
	}

	jobs, err := loadEpisodeJobs(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	options := defaultOptions()
	options.NumWorkers = *workers
	options.Overwrite = *overwrite
	options.VideoQuality = *videoQuality
	options.AudioQuality = *audioQuality
	options.VideoCodecPrefs = parseCodecPrefs(*videoCodecs, defaultVideoCodecPrefs)
	options.AudioCodecPrefs = parseCodecPrefs(*audioCodecs, defaultAudioCodecPrefs)
	options.OutputFormat = *outputFormat
	options.AudioOnlyFormat = *audioFormat
	options.RequireVideo = !*noVideo
	options.RequireAudio = !*noAudio

	if *blockSize != "" {
		parsed := parseByteSize(*blockSize)
		if parsed <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid block size: %s\n", *blockSize)
			os.Exit(1)
		}
		options.BlockSize = parsed
	}

	var limitBytes int64
	if *bandwidth != "" {
		limitBytes = parseByteSize(*bandwidth)
		if limitBytes <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid bandwidth limit: %s\n", *bandwidth)
			os.Exit(1)
		}
	}

	partialDir := *tmpDir
	if partialDir == "" {
		partialDir = *outputDir
	}
	for i := range jobs {
		jobs[i].OutputDir = *outputDir
		jobs[i].TmpDir = partialDir
	}

	// Headless mode when stdout is not a TTY (piped output, CI) to avoid
	// /dev/tty errors.
	var p *tea.Program
	if term.IsTerminal(int(os.Stdout.Fd())) {
		p = tea.NewProgram(initialModel())
	} else {
		p = tea.NewProgram(initialModel(),
			tea.WithInput(nil),
			tea.WithoutRenderer(),
		)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := NewFetcher(options.NumWorkers, *proxyURL, limitBytes, *verbose)
	orchestrator := NewOrchestrator(fetcher, NewFFmpeg(), options, p)

	errChan := make(chan error, 1)
	go func() {
		var runErr error
		for i := range jobs {
			job := &jobs[i]
			p.Send(jobStartMsg{filename: job.Filename, index: i + 1, total: len(jobs)})

			outcome, err := orchestrator.ProcessEpisode(ctx, job)
			if err != nil {
				runErr = fmt.Errorf("episode %s: %w", job.Filename, err)
				break
			}

			note := ""
			if outcome != outcomeDone {
				note = outcome.String()
			}
			p.Send(jobDoneMsg{filename: job.Filename, note: note})
		}

		if runErr != nil {
			p.Send(errorMsg(runErr))
			errChan <- runErr
		} else {
			p.Send(allDoneMsg{})
			errChan <- nil
		}
	}()

	go func() {
		<-sigChan
		cancel()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			os.Exit(1)
		}
	default:
		// Interrupted by signal before the run finished.
	}
}
