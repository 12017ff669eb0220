// Package telemetry records timed traces of hot paths (LLM calls, queue
// writes, snapshot fan-out) to per-operation JSONL files.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"charhub/pkg/timeutil"
)

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	Slow     bool      `json:"slow,omitempty"`
	lastMark time.Time
	tel      *Telemetry
}

type Options struct {
	Dir           string
	BufferSize    int
	QueueCapacity int
	FlushInterval time.Duration
	MaxFileSize   int64
	// SampleRate is the fraction of fast traces written; slow ones are always written.
	SampleRate    float64
	SlowThreshold time.Duration
}

// Summary aggregates every finished trace of one name, sampled or not.
type Summary struct {
	Count   uint64  `json:"count"`
	Slow    uint64  `json:"slow"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// Telemetry manages async writing of traces to per-op files.
type Telemetry struct {
	opts     Options
	mu       sync.Mutex
	files    map[string]*os.File
	buffers  map[string]*bufio.Writer
	traces   chan *Trace
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dropped  atomic.Uint64

	sumMu     sync.Mutex
	summaries map[string]*Summary
}

var (
	globalMu sync.RWMutex
	tel      *Telemetry
)

// Init initializes the global telemetry instance.
func Init(opts Options) error {
	t, err := New(opts)
	if err != nil {
		return err
	}
	globalMu.Lock()
	tel = t
	globalMu.Unlock()
	return nil
}

// Track starts a new trace using the global telemetry instance. Without Init
// the trace is a no-op.
func Track(name string) *Trace {
	globalMu.RLock()
	t := tel
	globalMu.RUnlock()
	return t.Track(name)
}

// Summaries returns the global per-trace aggregates.
func Summaries() map[string]Summary {
	globalMu.RLock()
	t := tel
	globalMu.RUnlock()
	return t.Summaries()
}

// Close stops the global telemetry instance.
func Close() {
	globalMu.Lock()
	t := tel
	tel = nil
	globalMu.Unlock()
	if t != nil {
		t.Close()
	}
}

// New creates a new telemetry subsystem with async background writer.
func New(opts Options) (*Telemetry, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64 * 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	t := &Telemetry{
		opts:      opts,
		files:     make(map[string]*os.File),
		buffers:   make(map[string]*bufio.Writer),
		traces:    make(chan *Trace, opts.QueueCapacity),
		stopCh:    make(chan struct{}),
		summaries: make(map[string]*Summary),
	}
	t.wg.Add(1)
	go t.writerLoop()
	return t, nil
}

// Track starts a new trace that is automatically linked to this telemetry.
func (t *Telemetry) Track(name string) *Trace {
	now := timeutil.Now()
	return &Trace{
		Name:     name,
		Start:    now,
		lastMark: now,
		tel:      t,
	}
}

// Mark records the elapsed duration since last mark.
func (tr *Trace) Mark(label string) {
	now := timeutil.Now()
	delta := now.Sub(tr.lastMark).Seconds() * 1000
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: delta})
	tr.lastMark = now
}

// Finish finalizes the trace. Safe to call multiple times or via defer.
func (tr *Trace) Finish() {
	t := tr.tel
	if t == nil {
		return
	}
	tr.tel = nil
	tr.TotalMS = timeutil.Now().Sub(tr.Start).Seconds() * 1000

	var sum float64
	for _, s := range tr.Steps {
		sum += s.Duration
	}
	if remaining := tr.TotalMS - sum; remaining > 0.001 {
		tr.Steps = append(tr.Steps, Step{Name: "unmarked", Duration: remaining})
	}
	tr.Slow = t.opts.SlowThreshold > 0 && tr.TotalMS >= float64(t.opts.SlowThreshold)/float64(time.Millisecond)
	t.summarize(tr)

	if !tr.Slow && rand.Float64() >= t.opts.SampleRate {
		return
	}
	select {
	case t.traces <- tr:
	default:
		t.dropped.Add(1)
	}
}

func (t *Telemetry) summarize(tr *Trace) {
	t.sumMu.Lock()
	defer t.sumMu.Unlock()
	s := t.summaries[tr.Name]
	if s == nil {
		s = &Summary{}
		t.summaries[tr.Name] = s
	}
	s.Count++
	s.TotalMS += tr.TotalMS
	if tr.TotalMS > s.MaxMS {
		s.MaxMS = tr.TotalMS
	}
	if tr.Slow {
		s.Slow++
	}
}

// Summaries returns a copy of the per-trace aggregates.
func (t *Telemetry) Summaries() map[string]Summary {
	out := map[string]Summary{}
	if t == nil {
		return out
	}
	t.sumMu.Lock()
	defer t.sumMu.Unlock()
	for k, v := range t.summaries {
		out[k] = *v
	}
	return out
}

// Dropped counts sampled traces discarded because the writer queue was full.
func (t *Telemetry) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.dropped.Load()
}

func (t *Telemetry) writerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case tr := <-t.traces:
			t.write(tr)

		case <-ticker.C:
			t.mu.Lock()
			t.flushLocked()
			t.mu.Unlock()

		case <-t.stopCh:
		drain:
			for {
				select {
				case tr := <-t.traces:
					t.write(tr)
				default:
					break drain
				}
			}
			t.mu.Lock()
			for _, b := range t.buffers {
				b.Flush()
			}
			for _, f := range t.files {
				f.Sync()
				f.Close()
			}
			t.mu.Unlock()
			return
		}
	}
}

func (t *Telemetry) write(tr *Trace) {
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.getBufferFor(tr.Name)
	if b == nil {
		return
	}
	b.Write(data)
	b.WriteByte('\n')
}

// flushLocked flushes buffers and truncates files grown past MaxFileSize.
func (t *Telemetry) flushLocked() {
	for name, b := range t.buffers {
		b.Flush()
		f := t.files[name]
		if t.opts.MaxFileSize <= 0 {
			continue
		}
		fi, err := f.Stat()
		if err != nil || fi.Size() <= t.opts.MaxFileSize {
			continue
		}
		f.Close()
		newF, err := os.OpenFile(f.Name(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			delete(t.files, name)
			delete(t.buffers, name)
			continue
		}
		t.files[name] = newF
		t.buffers[name] = bufio.NewWriterSize(newF, t.opts.BufferSize)
		fmt.Fprintf(os.Stderr, "telemetry: truncated %s (size exceeded %d bytes)\n", name, t.opts.MaxFileSize)
	}
}

func (t *Telemetry) getBufferFor(op string) *bufio.Writer {
	if b, ok := t.buffers[op]; ok {
		return b
	}
	path := filepath.Join(t.opts.Dir, fmt.Sprintf("%s.jsonl", op))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to open %s: %v\n", path, err)
		return nil
	}
	b := bufio.NewWriterSize(f, t.opts.BufferSize)
	t.files[op] = f
	t.buffers[op] = b
	return b
}

// Close stops background writer and flushes all remaining data.
func (t *Telemetry) Close() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
	})
}
