// Package store centralizes low-level filesystem writes and JSONL record
// files, serializing access per path.
package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxRecordBytes bounds one JSONL line, terminator included. Large enough
// for a transcript turn carrying inline images.
var maxRecordBytes = 16 << 20

// ErrRecordTooLarge is returned when an encoded record exceeds the line limit.
var ErrRecordTooLarge = errors.New("record exceeds size limit")

var (
	pathLocksMu sync.Mutex
	pathLocks   = map[string]*sync.Mutex{}
)

// WriteFile atomically replaces a file's contents.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	return writeFileLocked(cleanPath, data, perm)
}

func writeFileLocked(cleanPath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(cleanPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", cleanPath, err)
	}
	tempPath := tempFile.Name()
	defer func() {
		os.Remove(tempPath)
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file for %q: %w", cleanPath, err)
	}
	if err := tempFile.Chmod(perm); err != nil {
		tempFile.Close()
		return fmt.Errorf("chmod temp file for %q: %w", cleanPath, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file for %q: %w", cleanPath, err)
	}
	if err := os.Rename(tempPath, cleanPath); err != nil {
		return fmt.Errorf("replace file %q: %w", cleanPath, err)
	}
	return nil
}

// AppendJSONL encodes each record as one JSON line and appends them in a
// single write, creating the file if missing.
func AppendJSONL(path string, records ...any) error {
	if len(records) == 0 {
		return nil
	}
	cleanPath, err := cleanPath(path)
	if err != nil {
		return err
	}
	data, err := encodeLines(records)
	if err != nil {
		return err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	f, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open file %q for append: %w", cleanPath, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append file %q: %w", cleanPath, err)
	}
	return nil
}

// RewriteJSONL atomically replaces the file with the given records.
func RewriteJSONL(path string, records ...any) error {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return err
	}
	data, err := encodeLines(records)
	if err != nil {
		return err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	return writeFileLocked(cleanPath, data, 0o644)
}

// ScanJSONL calls fn with every non-empty line. A missing file has no lines
// and lines over the record limit are skipped. Decoding is left to fn so
// callers decide how to treat malformed lines.
func ScanJSONL(ctx context.Context, path string, fn func(line []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanPath, err := cleanPath(path)
	if err != nil {
		return err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(cleanPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open file %q: %w", cleanPath, err)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := readRecord(reader)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, ErrRecordTooLarge) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read file %q: %w", cleanPath, err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}

// readRecord returns the next line. Lines over maxRecordBytes are consumed
// and reported as ErrRecordTooLarge.
func readRecord(r *bufio.Reader) ([]byte, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxRecordBytes {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil, errors.Is(err, io.EOF) && (tooLong || len(line) > 0):
			if tooLong {
				return nil, ErrRecordTooLarge
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

func encodeLines(records []any) ([]byte, error) {
	var b bytes.Buffer
	for _, rec := range records {
		encoded, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		if len(encoded)+1 > maxRecordBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(encoded)+1)
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

func lockForPath(path string) *sync.Mutex {
	pathLocksMu.Lock()
	defer pathLocksMu.Unlock()

	lock, ok := pathLocks[path]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	pathLocks[path] = lock
	return lock
}

func cleanPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is required")
	}
	return filepath.Clean(trimmed), nil
}
