package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter("debug", &buf), "users")
	logger.Debug().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"users"`) || !strings.Contains(out, `"message":"hello"`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("warn", &buf)
	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered, got %s", buf.String())
	}
}
