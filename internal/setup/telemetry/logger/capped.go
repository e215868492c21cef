package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CappedFile is a log file that keeps only its most recent lines.
// The file is compacted once it holds twice the line cap.
type CappedFile struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	maxLines int
	tail     [][]byte
	written  int
}

// OpenCapped opens or creates path for appending. A cap of zero or less disables compaction.
func OpenCapped(path string, maxLines int) (*CappedFile, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}

	return &CappedFile{path: path, file: file, maxLines: maxLines}, nil
}

// Write appends p and compacts the file when it grows past the cap.
func (c *CappedFile) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.file.Write(p)
	if err != nil || c.maxLines <= 0 {
		return n, err
	}

	for line := range bytes.SplitSeq(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		c.tail = append(c.tail, bytes.Clone(line))
		if len(c.tail) > c.maxLines {
			c.tail = c.tail[len(c.tail)-c.maxLines:]
		}

		c.written++
	}

	if c.written >= 2*c.maxLines {
		if err := c.compact(); err != nil {
			return n, fmt.Errorf("failed to compact log file: %w", err)
		}
	}

	return n, nil
}

// Sync flushes the file to disk.
func (c *CappedFile) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.file.Sync()
}

// Close closes the underlying file.
func (c *CappedFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.file.Close()
}

// compact rewrites the file with only the retained tail.
func (c *CappedFile) compact() error {
	temp, err := os.CreateTemp(filepath.Dir(c.path), "compact-log-")
	if err != nil {
		return err
	}

	tempPath := temp.Name()

	content := append(bytes.Join(c.tail, []byte("\n")), '\n')
	if _, err := temp.Write(content); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	c.file.Close()

	if err := os.Rename(tempPath, c.path); err != nil {
		return err
	}

	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	c.file = file
	c.written = len(c.tail)

	return nil
}
