package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// JSONLSink writes each outcome as one JSON object per line. Page bodies are
// left out; the markdown renderings are kept.
type JSONLSink struct {
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink writes to w. If w is an io.Closer it is closed with the sink.
func NewJSONLSink(w io.Writer) *JSONLSink {
	s := &JSONLSink{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		s.closer = c
	}
	return s
}

// OpenJSONL creates path, or uses stdout for "-".
func OpenJSONL(path string) (*JSONLSink, error) {
	if path == "-" {
		return NewJSONLSink(os.Stdout), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create jsonl output: %w", err)
	}
	return NewJSONLSink(f), nil
}

func (s *JSONLSink) Write(_ context.Context, o *models.CrawlOutcome) error {
	return s.enc.Encode(o)
}

func (s *JSONLSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
