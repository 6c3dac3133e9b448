package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "debug", Format: "json"}, &buf), "watch")

	logger.Debug().Str("slug", "will-it-rain").Msg("checked")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "watch" || line["slug"] != "will-it-rain" || line["level"] != "debug" {
		t.Fatalf("unexpected log fields: %#v", line)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "chatty"}, &buf)

	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level, got %q", buf.String())
	}
	logger.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatal("info line missing")
	}
}
