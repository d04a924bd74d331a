package observability

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLoggerNilRestoresNoop(t *testing.T) {
	SetLogger(nil)
	if Log() == nil {
		t.Fatal("expected noop logger, got nil")
	}
	Log().Info("ignored")
}

func TestZerologAdapterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf)
	SetLogger(logger)
	defer SetLogger(nil)

	Log().Warn("slice dropped", Field{Key: "utc_time", Value: "2024-01-02T00:00:00Z"})

	out := buf.String()
	if !strings.Contains(out, `"slice dropped"`) {
		t.Fatalf("missing message: %s", out)
	}
	if !strings.Contains(out, `"utc_time"`) {
		t.Fatalf("missing field: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("missing level: %s", out)
	}
}

func TestAggregateErrorsSkipsNil(t *testing.T) {
	if err := AggregateErrors("flush", []error{nil, nil}); err != nil {
		t.Fatalf("expected nil aggregate, got %v", err)
	}
}
