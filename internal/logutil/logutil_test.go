package logutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestLevelSampler(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Sample(LevelSampler{Level: zerolog.WarnLevel})

	logger.Debug().Msg("dropped")
	logger.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug event should have been sampled out: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn event should have been kept: %s", out)
	}
}

func TestComponentTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	global := log.Logger
	defer func() { log.Logger = global }()
	log.Logger = zerolog.New(&buf)

	logger := Component("collector")
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"component":"collector"`) {
		t.Fatalf("expected component field, got %s", buf.String())
	}
}
