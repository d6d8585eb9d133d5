package rlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInfoWritesToFileOnly(t *testing.T) {
	dir := t.TempDir()
	l, err := newLogger(dir, zerolog.DebugLevel, "test.log", Config{})
	require.NoError(t, err)
	defer l.Close()

	l.Info("hello there", map[string]any{"n": 1})

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "hello there")
	require.Contains(t, string(data), `"n":1`)
}

func TestDebugBelowLevelIsDropped(t *testing.T) {
	dir := t.TempDir()
	l, err := newLogger(dir, zerolog.InfoLevel, "test.log", Config{})
	require.NoError(t, err)
	defer l.Close()

	l.Debug("should not appear", nil)

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "should not appear")
}

func TestErrorAttachesErrField(t *testing.T) {
	dir := t.TempDir()
	l, err := newLogger(dir, zerolog.DebugLevel, "test.log", Config{})
	require.NoError(t, err)
	defer l.Close()

	l.Error("connect failed", os.ErrClosed, nil)

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "connect failed")
	require.Contains(t, string(data), os.ErrClosed.Error())
}

func TestDefaultWithoutInitDiscardsSilently(t *testing.T) {
	require.NotPanics(t, func() {
		Default().Info("no-op", nil)
	})
}

func TestRotationSplitsFilesAndCompressesRotatedCopy(t *testing.T) {
	dir := t.TempDir()
	l, err := newLogger(dir, zerolog.InfoLevel, "test.log", Config{MaxSizeBytes: 64, CompressRotated: true})
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 20; i++ {
		l.Info("padding out the log file to force a rotation", map[string]any{"i": i})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawRotated, sawCompressed bool
	for _, e := range entries {
		if e.Name() == "test.log" {
			continue
		}
		if filepath.Ext(e.Name()) == ".zst" {
			sawCompressed = true
			continue
		}
		sawRotated = true
	}
	require.True(t, sawRotated || sawCompressed, "expected at least one rotated log file in %v", entries)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".zst" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "rotated file was never compressed")
}

func TestFilePathReportsBackingFile(t *testing.T) {
	dir := t.TempDir()
	l, err := newLogger(dir, zerolog.InfoLevel, "named.log", Config{})
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, filepath.Join(dir, "named.log"), l.FilePath())
}
