// Package output delivers crawl outcomes to files, databases and the terminal.
package output

import (
	"context"
	"errors"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// Sink consumes resolved candidates. Write is called from a single
// goroutine; implementations need not be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, o *models.CrawlOutcome) error
	Close() error
}

// MultiSink fans each outcome out to several sinks.
type MultiSink []Sink

// Write delivers o to every sink, continuing past failures.
func (m MultiSink) Write(ctx context.Context, o *models.CrawlOutcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain writes every outcome from stream to sink until the stream closes.
// Sink errors are collected; the stream is always fully consumed so the
// crawler never blocks on a failed sink.
func Drain(ctx context.Context, stream <-chan *models.CrawlOutcome, sink Sink) error {
	var errs []error
	for o := range stream {
		if err := sink.Write(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
