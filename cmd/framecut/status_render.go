package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"framecut/internal/bridge"
	"framecut/internal/logging"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusError
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"
)

const (
	statusLabelWidth = 22
	statusIndent     = "  "
	progressBarWidth = 30
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		return statusKindColor(kind) + base + ansiReset
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progressPrinter renders operation updates. On a terminal it drives a single
// progress bar; elsewhere it prints sampled progress lines.
type progressPrinter struct {
	out      io.Writer
	live     bool
	sampler  *logging.ProgressSampler
	bar      *progressbar.ProgressBar
	logsSeen int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{
		out:     out,
		live:    shouldColorize(out),
		sampler: logging.NewProgressSampler(10),
	}
}

// update is a bridge.UpdateFunc.
func (p *progressPrinter) update(u bridge.Update) {
	switch {
	case u.Terminal():
		p.endBar(u.Status == bridge.StatusComplete)
		if u.Status == bridge.StatusComplete {
			fmt.Fprintln(p.out, renderStatusLine("Result", statusOK, u.Message, p.live))
			return
		}
		message := u.Message
		if u.ErrorKind != "" {
			message = u.ErrorKind + ": " + message
		}
		fmt.Fprintln(p.out, renderStatusLine("Result", statusError, message, p.live))
	case u.Status == bridge.StatusLoading:
		for _, line := range u.Logs[min(p.logsSeen, len(u.Logs)):] {
			fmt.Fprintln(p.out, renderStatusLine("Engine", statusInfo, line, p.live))
		}
		p.logsSeen = max(p.logsSeen, len(u.Logs))
	case u.Status == bridge.StatusProcessing:
		if p.live {
			if p.bar == nil {
				p.bar = progressbar.NewOptions(100,
					progressbar.OptionSetWriter(p.out),
					progressbar.OptionSetWidth(progressBarWidth),
					progressbar.OptionSetPredictTime(false),
					progressbar.OptionShowElapsedTimeOnFinish(),
				)
			}
			p.bar.Describe(u.Message)
			_ = p.bar.Set(int(u.Progress))
			return
		}
		if p.sampler.ShouldLog(u.Progress, u.Message) {
			fmt.Fprintf(p.out, "%3d%% %s\n", int(u.Progress), u.Message)
		}
	}
}

func (p *progressPrinter) endBar(complete bool) {
	if p.bar == nil {
		return
	}
	if complete {
		_ = p.bar.Finish()
	}
	fmt.Fprintln(p.out)
	p.bar = nil
}
