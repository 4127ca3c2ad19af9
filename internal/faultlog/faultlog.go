// Package faultlog records safety-critical faults to CSV files with automatic
// rotation. The pump and the oiler write to it; nothing reads it back.
package faultlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shaunagostinho/chain-oiler/internal/logger"
)

// Config holds fault log configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

const defaultMaxRows = 10_000

var csvHeader = []string{"timestamp", "source", "message"}

// Recorder appends fault rows. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool
	log     *logger.Logger
	now     func() time.Time

	file   *os.File
	writer *csv.Writer
	rows   int
	total  int
}

// New creates a Recorder. Files are opened lazily on the first fault.
func New(cfg Config, log *logger.Logger) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/chainoiler"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
		log:     log.WithTag("faultlog"),
		now:     time.Now,
	}
}

// Fault writes one row. Write errors are logged, never returned: the caller
// is already handling a fault.
func (r *Recorder) Fault(source, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if !r.enabled {
		return
	}

	now := r.now()
	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(now); err != nil {
			r.log.Errorf("rotate failed: %v", err)
			return
		}
	}

	if err := r.writer.Write([]string{now.Format(time.RFC3339Nano), source, message}); err != nil {
		r.log.Errorf("write failed: %v", err)
		return
	}
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		r.log.Errorf("flush failed: %v", err)
		return
	}
	if err := r.file.Sync(); err != nil {
		r.log.Warnf("sync failed: %v", err)
	}
	r.rows++
}

// Count returns the number of faults seen since start, written or not.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	filename := fmt.Sprintf("faults_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	r.log.Infof("opened %s", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}
