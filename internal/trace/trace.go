// Package trace appends usage records to a JSONL file and keeps running
// counters for the current process.
//
// One line is written per logged call or event. Records carry timestamps,
// cache hit/store outcomes, token usage and latency, so a run's cost is
// reconstructable from the file alone. All methods are nil-safe: a nil
// *Tracer silently drops everything, which lets callers wire tracing
// unconditionally and disable it through configuration.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultPreviewBytes caps input and output previews in trace records
const DefaultPreviewBytes = 2000

// Usage is the token accounting of one provider call or cache hit
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Record is one JSONL trace line for an LLM call
type Record struct {
	TS            string            `json:"ts"`
	Endpoint      string            `json:"endpoint"`
	Model         string            `json:"model"`
	Key           string            `json:"key,omitempty"`
	Hit           bool              `json:"hit"`
	Stored        bool              `json:"stored,omitempty"`
	Usage         Usage             `json:"usage"`
	LatencyMS     int64             `json:"latency_ms"`
	Context       map[string]string `json:"context,omitempty"`
	Error         string            `json:"error,omitempty"`
	InputPreview  string            `json:"input_preview,omitempty"`
	OutputPreview string            `json:"output_preview,omitempty"`
}

// Counters accumulates across all records logged by one tracer
type Counters struct {
	Events           int64 `json:"events"`
	CacheHits        int64 `json:"cache_hits"`
	CacheStores      int64 `json:"cache_stores"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Options configures a tracer
type Options struct {
	// Path is the JSONL file. Created if absent, appended otherwise.
	Path string

	// LogInput and LogOutput gate the preview fields. Previews are
	// dropped entirely when the flag is off.
	LogInput  bool
	LogOutput bool

	// PreviewBytes truncates previews. Zero means DefaultPreviewBytes.
	PreviewBytes int
}

// Tracer is a mutex-guarded append-only JSONL writer
type Tracer struct {
	mu       sync.Mutex
	file     *os.File
	opts     Options
	counters Counters
}

// New opens the trace file for appending
func New(opts Options) (*Tracer, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("trace path is required")
	}
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = DefaultPreviewBytes
	}

	file, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file %s: %w", opts.Path, err)
	}
	return &Tracer{file: file, opts: opts}, nil
}

// LogCall appends one call record. The timestamp is filled when empty and
// previews are gated and truncated per the tracer options.
func (t *Tracer) LogCall(record Record) error {
	if t == nil {
		return nil
	}

	if record.TS == "" {
		record.TS = time.Now().UTC().Format(time.RFC3339)
	}
	if !t.opts.LogInput {
		record.InputPreview = ""
	} else {
		record.InputPreview = truncatePreview(record.InputPreview, t.opts.PreviewBytes)
	}
	if !t.opts.LogOutput {
		record.OutputPreview = ""
	} else {
		record.OutputPreview = truncatePreview(record.OutputPreview, t.opts.PreviewBytes)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal trace record: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters.Events++
	if record.Hit {
		t.counters.CacheHits++
	}
	if record.Stored {
		t.counters.CacheStores++
	}
	t.counters.PromptTokens += int64(record.Usage.PromptTokens)
	t.counters.CompletionTokens += int64(record.Usage.CompletionTokens)
	t.counters.TotalTokens += int64(record.Usage.TotalTokens)

	return t.writeLine(line)
}

// LogEvent appends one free-form event line, such as an embedding batch
// summary
func (t *Tracer) LogEvent(kind string, data map[string]any) error {
	if t == nil {
		return nil
	}

	event := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"event": kind,
	}
	if len(data) > 0 {
		event["data"] = data
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters.Events++
	return t.writeLine(line)
}

// writeLine appends line plus newline. Callers hold the mutex.
func (t *Tracer) writeLine(line []byte) error {
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace line: %w", err)
	}
	return nil
}

// Counters returns a snapshot of the running totals
func (t *Tracer) Counters() Counters {
	if t == nil {
		return Counters{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// Path returns the trace file location, empty for a nil tracer
func (t *Tracer) Path() string {
	if t == nil {
		return ""
	}
	return t.opts.Path
}

// Close flushes and closes the trace file
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// truncatePreview cuts s to at most n bytes without splitting a rune
func truncatePreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
