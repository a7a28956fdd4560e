package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Fields that only matter in the file log.
var sinkOmitted = map[string]bool{
	"time": true, "level": true, "msg": true,
	"run_id": true, "trace_id": true, "log_file": true,
}

// lineWriter turns JSON log records into short human lines.
type lineWriter struct {
	out io.Writer
}

func newLineWriter(out io.Writer) io.Writer {
	return &lineWriter{out: out}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, raw := range bytes.Split(p, []byte{'\n'}) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if _, err := io.WriteString(w.out, formatRecord(raw)+"\n"); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func formatRecord(raw []byte) string {
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return string(raw)
	}

	var b strings.Builder
	if ts, ok := record["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			b.WriteString(parsed.Format("15:04:05"))
			b.WriteByte(' ')
		}
	}
	if level, ok := record["level"].(string); ok {
		b.WriteString(strings.ToUpper(level))
		b.WriteByte(' ')
	}
	fmt.Fprint(&b, record["msg"])

	keys := make([]string, 0, len(record))
	for key := range record {
		if !sinkOmitted[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, record[key])
	}
	return b.String()
}
