package log

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func newBufferLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := NewWithOutput(&buf)
	logger.log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logger, &buf
}

func TestNew_DefaultLevel(t *testing.T) {
	_ = os.Unsetenv("LOG_LEVEL")
	logger := New()
	if logger.log.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected default level Info, got %v", logger.log.GetLevel())
	}
}

func TestNew_LevelFromEnvironment(t *testing.T) {
	tests := []struct {
		envValue string
		expected logrus.Level
	}{
		{"trace", logrus.TraceLevel},
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"invalid", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.envValue)

			logger := New()
			if logger.log.GetLevel() != tt.expected {
				t.Errorf("for LOG_LEVEL=%s, expected %v, got %v", tt.envValue, tt.expected, logger.log.GetLevel())
			}
		})
	}
}

func TestSetVerbosity(t *testing.T) {
	tests := []struct {
		count    int
		expected logrus.Level
	}{
		{0, logrus.InfoLevel},
		{1, logrus.DebugLevel},
		{2, logrus.TraceLevel},
		{3, logrus.TraceLevel},
	}

	for _, tt := range tests {
		logger, _ := newBufferLogger(t)
		logger.SetLevel("info")
		logger.SetVerbosity(tt.count)
		if logger.log.GetLevel() != tt.expected {
			t.Errorf("verbosity %d: expected %v, got %v", tt.count, tt.expected, logger.log.GetLevel())
		}
	}
}

func TestLevel(t *testing.T) {
	logger, _ := newBufferLogger(t)
	logger.SetLevel("debug")
	if logger.Level() != "debug" {
		t.Errorf("expected debug, got %s", logger.Level())
	}
}

func TestInfoWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.InfoWithFields(Fields{"path": "/tmp/out"}, "wrote %d bytes", 5)

	output := buf.String()
	if !strings.Contains(output, "wrote 5 bytes") || !strings.Contains(output, "path=/tmp/out") {
		t.Errorf("expected message with fields in output, got: %s", output)
	}
}

func TestErrorWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.ErrorWithFields(Fields{"reason": "checksum_mismatch"}, "rejected")

	output := buf.String()
	if !strings.Contains(output, "rejected") || !strings.Contains(output, "reason=checksum_mismatch") {
		t.Errorf("expected error with fields in output, got: %s", output)
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	logger, buf := newBufferLogger(t)
	logger.SetLevel("info")

	logger.Debug("hidden")
	logger.Trace("hidden too")

	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got: %s", buf.String())
	}
}

func TestWarn(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.Warn("reconnecting in %s", "5s")

	if !strings.Contains(buf.String(), "reconnecting in 5s") {
		t.Errorf("expected warn message in output, got: %s", buf.String())
	}
}

func TestWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.WithFields(Fields{"tag": 7, "session": "abc"}).Info("ack")

	output := buf.String()
	if !strings.Contains(output, "tag=7") || !strings.Contains(output, "session=abc") {
		t.Errorf("expected fields in output, got: %s", output)
	}
}
