package log

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/reshuffle/internal/pubsub"
)

func TestFormatEntry(t *testing.T) {
	ts := time.Date(2026, 10, 17, 10, 45, 0, 0, time.UTC)

	got := formatEntry(ts, LevelWarn, CatGen, "shuffled", "seq", 3, "trigger", "refresh")
	require.Equal(t, "2026-10-17T10:45:00 [WARN] [gen] shuffled seq=3 trigger=refresh\n", got)
}

func TestFormatEntry_OddFields(t *testing.T) {
	ts := time.Date(2026, 10, 17, 10, 45, 0, 0, time.UTC)

	got := formatEntry(ts, LevelInfo, CatUI, "msg", "orphan")
	require.Equal(t, "2026-10-17T10:45:00 [INFO] [ui] msg orphan=<missing>\n", got)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelWarn, ParseLevel("warn"))
	require.Equal(t, LevelError, ParseLevel("ERROR"))
	require.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestInitWriter_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	SetMinLevel(LevelInfo)

	Debug(CatDispatch, "hidden")
	Info(CatDispatch, "shown", "k", "v")
	ErrorErr(CatDispatch, "failed", os.ErrNotExist)

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[INFO] [dispatch] shown k=v")
	require.Contains(t, out, "error=file does not exist")
}

func TestSetEnabled(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)

	SetEnabled(false)
	Info(CatUI, "silent")
	SetEnabled(true)
	Info(CatUI, "loud")

	require.NotContains(t, buf.String(), "silent")
	require.Contains(t, buf.String(), "loud")
}

func TestInit_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	cleanup, err := Init(path)
	require.NoError(t, err)

	Warn(CatConfig, "written")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[WARN] [config] written")
}

func TestNewListener_ReceivesEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewListener(ctx)
	require.NotNil(t, listener)

	Info(CatServe, "listening", "addr", ":8080")

	msg := listener.Listen()()
	event, ok := msg.(LogEvent)
	require.True(t, ok)
	require.Equal(t, pubsub.LoggedEvent, event.Type)
	require.Contains(t, event.Payload, "listening addr=:8080")
}
