package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/law-makers/deepcrawl/pkg/models"
)

var csvHeader = []string{"url", "depth", "parent_url", "status", "content_type", "title", "attempts", "outcome", "error"}

// CSVSink writes an index row per outcome.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes the header row to w.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		s.closer = c
	}
	if err := s.w.Write(csvHeader); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenCSV creates path and writes the header row.
func OpenCSV(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv output: %w", err)
	}
	s, err := NewCSVSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) Write(_ context.Context, o *models.CrawlOutcome) error {
	var status, ctype, title, attempts string
	if r := o.Result; r != nil {
		status = strconv.Itoa(r.StatusCode)
		ctype = r.ContentType
		title = r.Title
		attempts = strconv.Itoa(r.Attempts)
	}
	row := []string{
		o.Candidate.URL,
		strconv.Itoa(o.Candidate.Depth),
		o.Candidate.ParentURL,
		status,
		ctype,
		title,
		attempts,
		outcomeLabel(o),
		o.Error,
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func outcomeLabel(o *models.CrawlOutcome) string {
	switch {
	case o.Succeeded():
		return "ok"
	case o.Skipped():
		return "skipped"
	default:
		return string(o.ErrorKind)
	}
}
