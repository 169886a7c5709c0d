package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "not-a-level")
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level, got %v", log.GetLevel())
	}
}

func TestPrettyFormatterIncludesFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")
	log.WithFields(logrus.Fields{"chunk": 3, "peer": "b"}).Info("fetch ok")

	out := buf.String()
	if !strings.Contains(out, "fetch ok") {
		t.Errorf("expected message in output: %s", out)
	}
	chunkIdx := strings.Index(out, "chunk=")
	peerIdx := strings.Index(out, "peer=")
	if chunkIdx == -1 || peerIdx == -1 || chunkIdx > peerIdx {
		t.Errorf("expected fields sorted alphabetically: %s", out)
	}
}

func TestNonTerminalOutputDisablesColor(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	log.Info("plain line")
	if strings.Contains(buf.String(), "\033[") {
		t.Error("expected no ANSI color codes when writing to a non-terminal buffer")
	}
}
