package session

import (
	"bytes"
	"strings"
	"sync"
)

const (
	// DefaultLogLimit is the number of lines kept per session.
	DefaultLogLimit = 300
	// MaxLineChars caps a stored log line.
	MaxLineChars = 500
)

// LogBuffer is a fixed-capacity FIFO of redacted log lines. Once full the
// oldest line is evicted. It implements io.Writer so a logger can tee into it.
type LogBuffer struct {
	mu      sync.Mutex
	lines   []string
	head    int
	count   int
	partial bytes.Buffer
}

// NewLogBuffer allocates a buffer holding at most capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogLimit
	}
	return &LogBuffer{lines: make([]string, capacity)}
}

// Append stores one line after redaction and truncation. Blank lines are dropped.
func (b *LogBuffer) Append(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	line = Truncate(Redact(line), MaxLineChars)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(line)
}

func (b *LogBuffer) push(line string) {
	capacity := len(b.lines)
	idx := (b.head + b.count) % capacity
	b.lines[idx] = line
	if b.count < capacity {
		b.count++
		return
	}
	b.head = (b.head + 1) % capacity
}

// Write splits p into lines and appends each complete one. A trailing
// fragment is held until its newline arrives.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.partial.Write(p)
	data := b.partial.Bytes()
	var complete []string
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		complete = append(complete, string(data[:i]))
		data = data[i+1:]
	}
	rest := append([]byte(nil), data...)
	b.partial.Reset()
	b.partial.Write(rest)
	b.mu.Unlock()

	for _, line := range complete {
		b.Append(line)
	}
	return len(p), nil
}

// Lines returns the stored lines oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.lines[(b.head+i)%len(b.lines)])
	}
	return out
}

// Len returns the number of stored lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Reset drops every stored line.
func (b *LogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.lines {
		b.lines[i] = ""
	}
	b.head = 0
	b.count = 0
	b.partial.Reset()
}
