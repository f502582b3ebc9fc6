package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_DefaultsToInfo(t *testing.T) {
	if got := New().GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("New() level = %v, want info", got)
	}
}

func TestNewWithLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"Info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"  debug\n", zerolog.DebugLevel},
		{"\tError ", zerolog.ErrorLevel},
		// unknown values fall back to info
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
		{"critical", zerolog.InfoLevel},
		{"3", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NewWithLevel(tt.input).GetLevel(); got != tt.want {
				t.Errorf("NewWithLevel(%q) level = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
