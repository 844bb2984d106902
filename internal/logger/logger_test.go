package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})
	ctx := l.WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetMediaID(ctx, "media-1")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Fatalf("GetRequestID = %q", got)
	}

	CtxInfo(ctx, "hello %s", "world")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	for key, want := range map[string]string{
		"message":      "hello world",
		"service":      "test",
		FieldRequestID: "req-1",
		FieldMediaID:   "media-1",
		"level":        "info",
	} {
		if line[key] != want {
			t.Errorf("%s = %v, want %q", key, line[key], want)
		}
	}
}

func TestDetachKeepsFieldsDropsCancellation(t *testing.T) {
	l := New(&Config{Output: &bytes.Buffer{}})
	parent, cancel := context.WithTimeout(l.WithContext(context.Background()), time.Minute)
	parent = SetComponent(parent, "builder")
	cancel()

	detached := Detach(parent)
	if detached.Err() != nil {
		t.Fatalf("detached context inherited cancellation: %v", detached.Err())
	}
	if _, ok := detached.Deadline(); ok {
		t.Error("detached context inherited the deadline")
	}
	if got := GetFieldString(detached, FieldComponent); got != "builder" {
		t.Errorf("component = %q, want builder", got)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("FromContext without logger did not return the default")
	}
}
