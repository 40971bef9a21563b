// Package eventlog implements the durable normalized update log for
// one (instrument, partition) scope: segmented append-only files of
// CRC-framed event records. The builder and query facade replay from
// it through offset-aware cursors; the ingestion side lands events
// into it through the writer.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"booktape/domain/event"
)

const (
	segmentPattern = "segment-*.tape"
	segmentFormat  = "segment-%06d.tape"

	// Record framing: [len:4][payload][crc:4], crc over the payload.
	frameOverhead = 8

	defaultSegmentSize = 64 * 1024 * 1024
)

// Config for a writer.
type Config struct {
	Dir         string
	SegmentSize int64
}

func (c *Config) defaults() {
	if c.SegmentSize <= 0 {
		c.SegmentSize = defaultSegmentSize
	}
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf(segmentFormat, index))
}

// listSegments returns the scope's segment paths in log order.
func listSegments(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, segmentPattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Log hands out cursors for one scope directory.
type Log struct {
	dir string
}

// Open returns a Log over dir. The directory may not exist yet; it is
// created on the first append.
func Open(dir string) *Log {
	return &Log{dir: dir}
}

// OpenCursor implements event.Log.
func (l *Log) OpenCursor() (event.Cursor, error) {
	return OpenReader(l.dir)
}

// Tree maps (instrument, partition) scopes onto per-scope directories
// under one root.
type Tree struct {
	Root string
}

// Dir returns the scope directory for (instrument, partition).
func (t Tree) Dir(instrument, partition string) string {
	return filepath.Join(t.Root, instrument, partition)
}

// Open returns the scope's Log.
func (t Tree) Open(instrument, partition string) *Log {
	return Open(t.Dir(instrument, partition))
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
