package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type progressMsg struct {
	downloaded int64
	total      int64
	speed      float64
	eta        time.Duration
}

type jobStartMsg struct {
	filename string
	index    int
	total    int
}

type streamInfoMsg []string

type jobDoneMsg struct {
	filename string
	note     string // non-empty for skipped / nothing-to-do outcomes
}

type allDoneMsg struct{}

type errorMsg error

type model struct {
	progress    progress.Model
	filename    string
	jobIndex    int
	jobTotal    int
	downloaded  int64
	total       int64
	speed       float64
	avgSpeed    float64
	eta         time.Duration
	startTime   time.Time
	streamInfo  []string
	finished    []string
	width       int
	done        bool
	err         error
	downloading bool
}

func initialModel() model {
	return model{
		progress:  progress.New(progress.WithDefaultGradient()),
		startTime: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4

	case jobStartMsg:
		m.filename = msg.filename
		m.jobIndex = msg.index
		m.jobTotal = msg.total
		m.streamInfo = nil
		m.downloaded = 0
		m.total = 0
		m.speed = 0
		m.downloading = false
		m.startTime = time.Now()

	case streamInfoMsg:
		m.streamInfo = append(m.streamInfo, msg...)

	case progressMsg:
		m.downloading = true
		m.downloaded = msg.downloaded
		m.total = msg.total
		m.speed = msg.speed
		m.eta = msg.eta
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			m.avgSpeed = float64(m.downloaded) / elapsed
		}

	case jobDoneMsg:
		line := msg.filename
		if msg.note != "" {
			line = fmt.Sprintf("%s (%s)", msg.filename, msg.note)
		}
		m.finished = append(m.finished, line)
		m.downloading = false

	case allDoneMsg:
		m.done = true
		return m, tea.Quit

	case errorMsg:
		m.err = msg
		return m, tea.Quit
	}

	return m, nil
}

func (m model) View() string {
	if m.err != nil {
		return fmt.Sprintf("\n❌ Error: %v\n", m.err)
	}

	if m.done {
		return fmt.Sprintf("\n✅ All downloads completed!\n%s\n", strings.Join(m.finished, "\n"))
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("211")).
		MarginBottom(1).
		Render(fmt.Sprintf("📥 Processing %s (%d/%d)", m.filename, m.jobIndex, m.jobTotal))

	elements := []string{header}

	if len(m.streamInfo) > 0 {
		info := lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Render(strings.Join(m.streamInfo, "\n"))
		elements = append(elements, info)
	}

	if m.downloading {
		var prog string
		if m.total > 0 {
			prog = m.progress.ViewAs(float64(m.downloaded) / float64(m.total))
		} else {
			prog = m.progress.ViewAs(0)
		}

		var percent float64
		if m.total > 0 {
			percent = float64(m.downloaded) / float64(m.total) * 100
		}
		stats := lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1).
			Render(fmt.Sprintf(
				"Progress: %.1f%% | Downloaded: %s/%s | Speed: %s/s | Avg: %s/s | ETA: %s",
				percent,
				formatBytes(m.downloaded),
				formatBytes(m.total),
				formatBytes(int64(m.speed)),
				formatBytes(int64(m.avgSpeed)),
				formatDuration(m.eta),
			))
		elements = append(elements, prog, stats)
	}

	if len(m.finished) > 0 {
		finishedHeader := lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginTop(1).
			Render("📂 Finished:")
		elements = append(elements, finishedHeader, strings.Join(m.finished, "\n"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, elements...)
}

// reportProgress polls the frontiers of the active buffers every interval and
// sends snapshots to the TUI until every buffer reaches its total or the
// context is cancelled. Observation-only: it never gates the fetchers.
func reportProgress(ctx context.Context, p *tea.Program, buffers []*FileBuffer, total int64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()
	lastDownloaded := int64(0)
	lastTime := startTime

	for {
		select {
		case <-ticker.C:
			var downloaded int64
			for _, buf := range buffers {
				downloaded += buf.WrittenSize()
			}
			now := time.Now()

			timeDiff := now.Sub(lastTime).Seconds()
			if timeDiff > 0 {
				speed := float64(downloaded-lastDownloaded) / timeDiff

				// ETA from average speed since start, which is more stable
				// than the instantaneous figure.
				var eta time.Duration
				totalElapsed := time.Since(startTime).Seconds()
				if totalElapsed > 0 && downloaded > 0 {
					avgSpeed := float64(downloaded) / totalElapsed
					eta = time.Duration(float64(total-downloaded)/avgSpeed) * time.Second
				}

				if p != nil {
					p.Send(progressMsg{
						downloaded: downloaded,
						total:      total,
						speed:      speed,
						eta:        eta,
					})
				}

				lastDownloaded = downloaded
				lastTime = now
			}

			if total > 0 && downloaded >= total {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// describeStreams renders the candidate tables the way the selected entries
// are marked in them, one line per stream.
func describeStreams(job *EpisodeJob, video *VideoStreamMeta, audio *AudioStreamMeta) []string {
	var lines []string

	if len(job.Videos) == 0 {
		lines = append(lines, "no video streams available")
	} else {
		lines = append(lines, fmt.Sprintf("%d video stream(s):", len(job.Videos)))
		for i := range job.Videos {
			v := &job.Videos[i]
			marker := " "
			if video != nil && v == video {
				marker = "*"
			}
			lines = append(lines, fmt.Sprintf("%s%2d [%4s] [%4dx%-4d] <%s> #%d",
				marker, i, strings.ToUpper(v.Codec), v.Width, v.Height,
				videoQualityNames[v.Quality], len(v.Mirrors)+1))
		}
	}

	if len(job.Audios) == 0 {
		lines = append(lines, "no audio streams available")
	} else {
		lines = append(lines, fmt.Sprintf("%d audio stream(s):", len(job.Audios)))
		for i := range job.Audios {
			a := &job.Audios[i]
			marker := " "
			if audio != nil && a == audio {
				marker = "*"
			}
			lines = append(lines, fmt.Sprintf("%s%2d [%4s] <%s>",
				marker, i, strings.ToUpper(a.Codec), audioQualityNames[a.Quality]))
		}
	}

	return lines
}
