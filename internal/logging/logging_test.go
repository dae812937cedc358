package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("test", &buf, LevelWarn)
	l.Infof("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below threshold, got %q", buf.String())
	}
	l.Warnf("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
}

func TestWithScopesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New("xfer", &buf, LevelDebug)
	child := l.With("sender")
	child.Infof("hello")
	if !strings.Contains(buf.String(), "xfer/sender") {
		t.Fatalf("expected scoped component name, got %q", buf.String())
	}
}

func TestSetLevelAppliesToChildren(t *testing.T) {
	var buf bytes.Buffer
	l := New("root", &buf, LevelInfo)
	child := l.With("child")
	l.SetLevel(LevelError)
	child.Warnf("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected child to inherit raised threshold, got %q", buf.String())
	}
}
