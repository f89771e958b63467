package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable
// key=value lines or as JSON Lines.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter writing to writer (os.Stdout if nil).
// When jsonMode is true, each event is written as one JSON object per line.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes a single event line.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

// EmitBatch writes each event in order.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op; LogEmitter writes synchronously.
func (l *LogEmitter) Flush(context.Context) error { return nil }

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s/%s] run=%s step=%d node=%s", event.Type, event.Msg, event.RunID, event.Step, event.NodeID)
	if len(event.Meta) > 0 {
		fmt.Fprintf(l.writer, " meta=%v", event.Meta)
	}
	fmt.Fprintln(l.writer)
}

func (l *LogEmitter) emitJSON(event Event) {
	b, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.writer, `{"error":"emit marshal failed: %s"}`+"\n", err)
		return
	}
	l.writer.Write(b)
	l.writer.Write([]byte("\n"))
}
