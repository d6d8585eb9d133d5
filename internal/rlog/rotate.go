package rlog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// rotatingWriter is the file sink's io.Writer once Config.MaxSizeBytes is
// set: once a write would push the active file past maxSize, it closes the
// file, renames it aside with a timestamp suffix, and reopens a fresh file
// at the original path before the write proceeds.
type rotatingWriter struct {
	mu              sync.Mutex
	path            string
	file            *os.File
	size            int64
	maxSize         int64
	compressRotated bool
}

func newRotatingWriter(path string, file *os.File, maxSize int64, compressRotated bool) (*rotatingWriter, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return &rotatingWriter{path: path, file: file, size: info.Size(), maxSize: maxSize, compressRotated: compressRotated}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	rotatedPath := w.path + "." + time.Now().Format("20060102T150405.000000000")
	if err := os.Rename(w.path, rotatedPath); err != nil {
		return err
	}
	if w.compressRotated {
		go compressRotatedFile(rotatedPath)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0
	return nil
}

// compressRotatedFile zstd-compresses path into path+".zst" and removes the
// uncompressed copy on success; it runs off the writer's hot path since
// rotation must not block the caller appending the next log line.
func compressRotatedFile(path string) {
	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".zst")
	if err != nil {
		return
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return
	}
	if err := enc.Close(); err != nil {
		return
	}
	os.Remove(path)
}
