// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"Error", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNew_ConsoleText(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Service: "arena", Output: &buf})
	defer l.Close()

	l.Slog().Debug("hidden")
	l.Slog().Info("session started", slog.String("session_id", "s1"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "session started")
	assert.Contains(t, out, "session_id=s1")
	assert.Contains(t, out, "service=arena")
}

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, JSON: true, Output: &buf})
	defer l.Close()

	l.Slog().Debug("step", slog.Int("states", 42))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "step", rec["msg"])
	assert.Equal(t, float64(42), rec["states"])
}

func TestNew_QuietWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Quiet: true, Output: &buf})
	defer l.Close()
	l.Slog().Error("dropped")
	assert.Empty(t, buf.String())
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir, Service: "arena-test", Quiet: true})

	path := l.FilePath()
	require.NotEmpty(t, path)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "arena-test_"))

	l.Slog().Info("finished", slog.Int("steps", 3))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "finished", rec["msg"])
	assert.Equal(t, "arena-test", rec["service"])
}

func TestNew_BadDirFallsBackToConsole(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	var buf bytes.Buffer
	l := New(Config{Dir: filepath.Join(blocker, "logs"), Output: &buf})
	defer l.Close()

	assert.Empty(t, l.FilePath())
	assert.Contains(t, buf.String(), "file logging disabled")
}

func TestExporter_ReceivesEntries(t *testing.T) {
	exp := NewBufferedExporter()
	l := New(Config{Level: LevelInfo, Service: "arena", Quiet: true, Exporter: exp})
	defer l.Close()

	log := l.Slog().With(slog.String("component", "runner"))
	log.Debug("filtered")
	log.Info("step", slog.Group("outcome", slog.Float64("eval", 0.5)))
	log.WithGroup("conn").Warn("slow", slog.String("remote", "a"))

	entries := exp.Entries()
	require.Len(t, entries, 2)

	assert.Equal(t, "step", entries[0].Message)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "arena", entries[0].Service)
	assert.Equal(t, "runner", entries[0].Attrs["component"])
	assert.Equal(t, 0.5, entries[0].Attrs["outcome.eval"])
	assert.NotContains(t, entries[0].Attrs, "service")

	assert.Equal(t, LevelWarn, entries[1].Level)
	assert.Equal(t, "a", entries[1].Attrs["conn.remote"])

	assert.Equal(t, []string{"slow"}, exp.Messages(LevelWarn))
}

type failingExporter struct {
	flushErr, closeErr error
}

func (f *failingExporter) Export(context.Context, LogEntry) error { return errors.New("sink down") }
func (f *failingExporter) Flush(context.Context) error           { return f.flushErr }
func (f *failingExporter) Close() error                          { return f.closeErr }

func TestClose_JoinsErrorsAndIsIdempotent(t *testing.T) {
	flushErr := errors.New("flush")
	closeErr := errors.New("close")
	l := New(Config{Quiet: true, Exporter: &failingExporter{flushErr: flushErr, closeErr: closeErr}})

	// Export failures never surface to the caller.
	l.Slog().Info("still logs")

	err := l.Close()
	assert.ErrorIs(t, err, flushErr)
	assert.ErrorIs(t, err, closeErr)
	assert.NoError(t, l.Close())
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	log := slog.New(h).With(slog.String("k", "v"))

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	log.Info("one")
	log.Error("two")

	assert.Contains(t, a.String(), "one")
	assert.Contains(t, a.String(), "two")
	assert.NotContains(t, b.String(), "one")
	assert.Contains(t, b.String(), "k=v")
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exp := NewBufferedExporter()
	l := New(Config{Quiet: true, Exporter: exp})
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Slog().Info("tick", slog.Int("worker", i))
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, exp.Entries(), 200)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".arena/logs"), expandPath("~/.arena/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
