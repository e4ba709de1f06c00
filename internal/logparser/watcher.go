package logparser

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler receives one valid session event. Handlers are invoked
// sequentially in file order; a handler error is logged and does not
// stop delivery to remaining handlers or later events.
type Handler func(Event) error

// Watcher tails an append-only, occasionally rotated log file by
// polling its size. It never replays content that existed before
// Start, and it survives transient I/O errors and file disappearance.
type Watcher struct {
	filePath     string
	pollInterval time.Duration
	handlers     []Handler
	done         chan struct{}
	stopped      chan struct{}
	now          func() time.Time

	// mu guards the position fields, read by Stats from HTTP
	// goroutines while the poll goroutine advances them.
	mu       sync.Mutex
	offset   int64
	lastSize int64
	running  bool
}

func NewWatcher(filePath string, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Watcher{
		filePath:     filePath,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// OnEvent registers a handler. Must be called before Start.
func (w *Watcher) OnEvent(handler Handler) {
	w.handlers = append(w.handlers, handler)
}

// Start begins polling. Existing file content is skipped: the current
// size becomes the starting offset, so only lines appended after this
// call produce events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		log.Warn().Msg("log watcher is already running")
		return nil
	}

	info, err := os.Stat(w.filePath)
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("log file not found: %s: %w", w.filePath, err)
	}

	w.offset = info.Size()
	w.lastSize = info.Size()
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	log.Info().
		Str("path", w.filePath).
		Int64("initialSize", info.Size()).
		Dur("pollInterval", w.pollInterval).
		Msg("started watching log file")

	go w.run()
	return nil
}

// Stop blocks until the poll goroutine has exited, so no handler is
// still running when Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	<-w.stopped
	log.Info().Msg("stopped watching log file")
}

func (w *Watcher) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll checks the file once. All errors are contained here: a failed
// tick must never stop the polling loop.
func (w *Watcher) poll() {
	info, err := os.Stat(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", w.filePath).Msg("log file disappeared, waiting for it to reappear")
			return
		}
		log.Error().Err(err).Str("path", w.filePath).Msg("failed to stat log file")
		return
	}

	size := info.Size()

	w.mu.Lock()
	offset := w.offset
	lastSize := w.lastSize
	w.mu.Unlock()

	// File shrank: the log was rotated or truncated. Start over from
	// the beginning of the new file.
	if size < lastSize {
		log.Info().Str("path", w.filePath).Msg("log rotation detected, resetting position")
		offset = 0
	}

	if size > offset {
		if err := w.readNewContent(offset, size); err != nil {
			log.Error().Err(err).Str("path", w.filePath).Msg("failed to read new log content")
			return
		}
		offset = size
	}

	w.mu.Lock()
	w.offset = offset
	w.lastSize = size
	w.mu.Unlock()
}

func (w *Watcher) readNewContent(start, end int64) error {
	f, err := os.Open(w.filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	buf, err := io.ReadAll(io.LimitReader(f, end-start))
	if err != nil {
		return err
	}

	now := w.now()
	for _, line := range strings.Split(string(buf), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		ev := Parse(line)
		if ev == nil || !Valid(ev, now) {
			continue
		}

		for _, handler := range w.handlers {
			if err := handler(*ev); err != nil {
				log.Error().Err(err).
					Str("steam64", ev.Steam64).
					Str("type", string(ev.Type)).
					Msg("event handler failed")
			}
		}
	}

	return nil
}

// Stats describes the watcher's current position, for the stats surface.
type WatcherStats struct {
	Running      bool   `json:"running"`
	FilePath     string `json:"filePath"`
	Offset       int64  `json:"offset"`
	LastSize     int64  `json:"lastSize"`
	HandlerCount int    `json:"handlerCount"`
}

func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WatcherStats{
		Running:      w.running,
		FilePath:     w.filePath,
		Offset:       w.offset,
		LastSize:     w.lastSize,
		HandlerCount: len(w.handlers),
	}
}
