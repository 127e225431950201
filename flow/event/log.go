package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to a writer.
//
// Two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[node_started] execution=exec-001 data={"node_id":"agent1"}
//
// Example JSON output:
//
//	{"execution_id":"exec-001","event_type":"node_started","data":{"node_id":"agent1"},"timestamp":"..."}
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(e Event) {
	if l.jsonMode {
		data, err := json.Marshal(e)
		if err != nil {
			fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
			return
		}
		fmt.Fprintf(l.writer, "%s\n", data)
		return
	}

	fmt.Fprintf(l.writer, "[%s] execution=%s", e.Type, e.ExecutionID)
	if len(e.Data) > 0 {
		if dataJSON, err := json.Marshal(e.Data); err == nil {
			fmt.Fprintf(l.writer, " data=%s", dataJSON)
		} else {
			fmt.Fprintf(l.writer, " data=%v", e.Data)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
