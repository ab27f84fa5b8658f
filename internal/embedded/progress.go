package embedded

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Resource string ids used for the progress display.
const (
	MsgInstalling = "msg08"
	MsgTitle      = "title01"
)

// Messages resolves user-facing resource strings by id. An empty result
// means the id is unknown.
type Messages interface {
	Resolve(id string) string
}

// MessageTable is a Messages backed by a map.
type MessageTable map[string]string

// Resolve returns the string for id, or "".
func (m MessageTable) Resolve(id string) string {
	return m[id]
}

// DefaultMessages are the built-in English strings.
var DefaultMessages = MessageTable{
	MsgInstalling: "Installing",
	MsgTitle:      "embedinstall",
}

// ProgressReporter brackets long-running work. Stop may be called any
// number of times; only the first call after Start has an effect.
type ProgressReporter interface {
	Start()
	Stop()
}

// Progress renders a status line with the number of bytes received. It also
// implements io.Writer so it can be handed to Downloader.Fetch as a sink.
type Progress struct {
	out      io.Writer
	message  string
	title    string
	interval time.Duration

	written atomic.Int64
	started atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewProgress creates a progress display writing to out.
func NewProgress(out io.Writer, message, title string) *Progress {
	return &Progress{
		out:      out,
		message:  message,
		title:    title,
		interval: 2 * time.Second,
		done:     make(chan struct{}),
	}
}

// Start prints the title and begins periodic reporting.
func (p *Progress) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		if p.title != "" {
			fmt.Fprintf(p.out, "%s\n", p.title)
		}
		fmt.Fprintf(p.out, "%s...\n", p.message)

		ticker := time.NewTicker(p.interval)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					p.report()
				case <-p.done:
					return
				}
			}
		}()
	})
}

// Stop ends reporting. It is a no-op if Start was never called.
func (p *Progress) Stop() {
	if !p.started.Load() {
		return
	}
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		fmt.Fprintf(p.out, "\033[2K\r%s: done (%s)\n", p.message, humanFileSize(p.written.Load()))
	})
}

// Write counts received bytes.
func (p *Progress) Write(b []byte) (int, error) {
	p.written.Add(int64(len(b)))
	return len(b), nil
}

func (p *Progress) report() {
	fmt.Fprintf(p.out, "\033[2K\r%s... %s", p.message, humanFileSize(p.written.Load()))
}

var sizeSuffixes = [...]string{"B", "KB", "MB", "GB", "TB"}

// humanFileSize formats a byte count with a binary unit suffix.
func humanFileSize(size int64) string {
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(sizeSuffixes)-1 {
		value /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", size, sizeSuffixes[0])
	}
	return fmt.Sprintf("%.2f %s", value, sizeSuffixes[i])
}
