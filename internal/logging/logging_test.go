package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWriterJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := Component(NewWriter(&buf, "warn", false), "test")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["message"] != "shown" {
		t.Errorf("message = %v, want shown", rec["message"])
	}
	if rec["c"] != "test" {
		t.Errorf("component = %v, want test", rec["c"])
	}
}

func TestNewWriterBadLevelDefaultsToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := NewWriter(&buf, "loud", false)
	log.Debug().Msg("debug")
	if buf.Len() != 0 {
		t.Errorf("debug record written at default level: %q", buf.String())
	}
	log.Info().Msg("info")
	if buf.Len() == 0 {
		t.Error("info record missing")
	}
}
