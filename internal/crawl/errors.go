package crawl

import (
	"errors"
	"fmt"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// ErrAlreadyStarted is returned when a Crawler is started twice.
var ErrAlreadyStarted = errors.New("crawler already started")

// Error is a per-candidate failure. It never aborts the crawl.
type Error struct {
	Kind models.ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.URL == "" || t.URL == e.URL)
}

// Kind returns the error kind of err, or ErrKindNone.
func Kind(err error) models.ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return models.ErrKindNone
}
