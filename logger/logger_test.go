package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()
			l := New(Config{Level: tt.level})
			assert.Equal(t, tt.want, l.Logrus().GetLevel())
		})
	}
}

func TestFileOutputUsesRotation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zonetrader.log")
	l := New(Config{Output: path, MaxSize: 1})

	lj, ok := l.Logrus().Out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, lj.Filename)
}

func TestComponentFields(t *testing.T) {
	t.Parallel()

	l := New(Config{Format: "json"})
	var buf bytes.Buffer
	l.Logrus().SetOutput(&buf)

	l.Component("risk", "EUR_USD").WithField("outcome", OutcomeVeto).Info("blocked")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "risk", rec["component"])
	assert.Equal(t, "EUR_USD", rec["symbol"])
	assert.Equal(t, OutcomeVeto, rec["outcome"])
	assert.Equal(t, "blocked", rec["msg"])
}
