package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tutu-network/modelctl/internal/domain"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// One line per blob, redrawn in place while bytes move:
//   model.gguf  [=========>..........]  42% | 1.2 GB / 2.8 GB | 45 MB/s | ETA 35s

const barWidth = 30 // Characters for the progress bar

type progressBar struct {
	mu  sync.Mutex
	out io.Writer
	// drawing is true while a bar line is on screen without a newline.
	drawing bool
}

func newProgressBar(out io.Writer) *progressBar {
	return &progressBar{out: out}
}

// update is a transfer.ProgressFunc.
func (p *progressBar) update(task *domain.TransferTask, transferred, total int64, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clearLine(p.out)
	fmt.Fprintf(p.out, "  %-16s %s", label(task), renderBar(transferred, total, elapsed))
	p.drawing = true
}

// done prints the blob's final line.
func (p *progressBar) done(task *domain.TransferTask) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.drawing {
		clearLine(p.out)
		p.drawing = false
	}
	switch task.Result.Outcome {
	case domain.OutcomeSkipped:
		fmt.Fprintf(p.out, "[ok]   %-16s %s already present\n", label(task), task.Digest.Short())
	case domain.OutcomeTransferred:
		fmt.Fprintf(p.out, "[done] %-16s %s in %s\n", label(task),
			humanize.Bytes(uint64(task.Result.Bytes)), task.Result.Duration.Round(time.Millisecond))
	case domain.OutcomeFailed:
		fmt.Fprintf(p.out, "[fail] %-16s %s\n", label(task), task.Result.Reason)
	}
}

// status prints a create status line from the destination.
func (p *progressBar) status(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "  %s\n", s)
}

func label(task *domain.TransferTask) string {
	if task.FileName != "" {
		return task.FileName
	}
	return string(task.Role)
}

// renderBar formats "[====>....]  42% | 1.2 GB / 2.8 GB | 45 MB/s | ETA 35s".
// An unknown total shows only the bytes moved and the speed.
func renderBar(transferred, total int64, elapsed time.Duration) string {
	speed := calculateSpeed(transferred, elapsed)
	if total <= 0 {
		return fmt.Sprintf("%s | %s", humanize.Bytes(uint64(transferred)), speed)
	}

	pct := float64(transferred) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf("%s %3.0f%% | %s / %s | %s | %s",
		bar(pct), pct,
		humanize.Bytes(uint64(transferred)), humanize.Bytes(uint64(total)),
		speed, calculateETA(transferred, total, elapsed))
}

func bar(pct float64) string {
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	switch {
	case filled == barWidth:
		return "[" + strings.Repeat("=", filled) + "]"
	case filled > 0:
		return "[" + strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty) + "]"
	default:
		return "[" + strings.Repeat(".", barWidth) + "]"
	}
}

func calculateSpeed(transferred int64, elapsed time.Duration) string {
	if elapsed < 500*time.Millisecond {
		return "-- MB/s"
	}
	return formatSpeed(int64(float64(transferred) / elapsed.Seconds()))
}

func calculateETA(transferred, total int64, elapsed time.Duration) string {
	if transferred <= 0 || transferred >= total || elapsed < time.Second {
		return "ETA --"
	}

	rate := float64(transferred) / elapsed.Seconds()
	remaining := int(float64(total-transferred) / rate)

	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", remaining)
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", remaining/60, remaining%60)
	}
	return fmt.Sprintf("ETA %dh%dm", remaining/3600, (remaining%3600)/60)
}

func formatSpeed(bytesPerSec int64) string {
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}

func clearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}
