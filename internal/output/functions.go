package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tanq16/vidzo/internal/progress"
	"golang.org/x/term"
)

const barWidth = 30

// ProgressBar renders the bar and percentage for a known total.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = barWidth
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"] + strings.Repeat(StyleSymbols["hline"], filled) + strings.Repeat(" ", width-filled) + StyleSymbols["bullet"]
	return fmt.Sprintf("%s %.1f%%", bar, percent*100)
}

// ProgressLine describes a snapshot in one line. Downloads of unknown
// size show only the byte count and speed.
func ProgressLine(s progress.Snapshot) string {
	sep := " " + StyleSymbols["bullet"] + " "
	downloaded := humanize.IBytes(uint64(max(s.Downloaded, 0)))
	if s.TotalSize <= 0 {
		return downloaded + sep + s.SpeedString()
	}
	parts := []string{
		ProgressBar(s.Downloaded, s.TotalSize, barWidth),
		downloaded + " / " + humanize.IBytes(uint64(s.TotalSize)),
		s.SpeedString(),
		"ETA " + s.ETAString(),
	}
	return strings.Join(parts, sep)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func getTerminalSize(f *os.File) (int, int) {
	width, height, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// truncate keeps a line within width runes so redraws stay aligned.
func truncate(text string, width int) string {
	if width <= 3 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width-3]) + "..."
}
