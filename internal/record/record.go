// Package record keeps an append-only JSONL log of pulled batches.
package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/godec/pkg/godec"
	"github.com/user/godec/pkg/message"
)

// Entry is one line of the log.
type Entry struct {
	Seq      int64                       `json:"seq"`
	Endpoint string                      `json:"endpoint"`
	At       time.Time                   `json:"at"`
	Messages map[string]message.Envelope `json:"messages"`
}

// Batch decodes the entry back into messages.
func (e *Entry) Batch() (godec.Batch, error) {
	b := make(godec.Batch, len(e.Messages))
	for stream, env := range e.Messages {
		m, err := message.FromEnvelope(env)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", stream, err)
		}
		b[stream] = m
	}
	return b, nil
}

// Recorder appends batches to a single file. Seq continues from the lines
// already in the file.
type Recorder struct {
	path string
	mu   sync.Mutex
	seq  int64
	now  func() time.Time
}

// Open prepares path for appending, creating its directory.
func Open(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	n, err := count(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{path: path, seq: n, now: time.Now}, nil
}

func (r *Recorder) Path() string { return r.path }

func count(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan record file: %w", err)
	}
	return n, nil
}

// Append writes b as the next entry and returns it.
func (r *Recorder) Append(endpoint string, b godec.Batch) (*Entry, error) {
	streams := make([]string, 0, len(b))
	for s := range b {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	msgs := make(map[string]message.Envelope, len(b))
	for _, s := range streams {
		env, err := message.ToEnvelope(b[s])
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", s, err)
		}
		msgs[s] = env
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &Entry{Seq: r.seq + 1, Endpoint: endpoint, At: r.now().UTC(), Messages: msgs}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("write entry: %w", err)
	}
	r.seq = entry.Seq
	return entry, nil
}

// Tail returns the last limit entries, oldest first.
func (r *Recorder) Tail(limit int) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Tail(r.path, limit)
}

// Tail reads the last limit entries of the log at path.
func Tail(path string, limit int) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan record file: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
