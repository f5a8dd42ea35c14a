package engine

import (
	"context"
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
		is   error
	}{
		{context.DeadlineExceeded, ErrCodeTimeout, ErrTimeout},
		{context.Canceled, ErrCodeCanceled, context.Canceled},
		{errors.New("connection refused"), ErrCodeNetworkError, ErrNetworkError},
	}
	for _, tt := range tests {
		ee := Classify("https://example.com/", tt.err)
		if ee.Code != tt.code {
			t.Errorf("Classify(%v).Code = %s, want %s", tt.err, ee.Code, tt.code)
		}
		if !errors.Is(ee, tt.is) {
			t.Errorf("Classify(%v) should match %v", tt.err, tt.is)
		}
		if !errors.Is(ee, &EngineError{Code: tt.code}) {
			t.Errorf("EngineError should match by code")
		}
	}
}
