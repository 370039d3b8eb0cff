package samewatch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Recorder archives generated transmissions as WAV files named by a
// strftime pattern, e.g. "%Y%m%d-%H%M%S-same.wav".
type Recorder struct {
	dir     string
	pattern *strftime.Strftime
}

func NewRecorder(dir string, pattern string) (*Recorder, error) {
	var p, parseErr = strftime.New(pattern)
	if parseErr != nil {
		return nil, fmt.Errorf("record pattern %q: %w", pattern, parseErr)
	}
	if dir == "" {
		dir = "."
	}
	var mkErr = os.MkdirAll(dir, 0o755)
	if mkErr != nil {
		return nil, mkErr
	}
	return &Recorder{dir: dir, pattern: p}, nil
}

// Record writes the transmission and returns the path it landed at.
func (r *Recorder) Record(tx *Transmission, at time.Time) (string, error) {
	var path = filepath.Join(r.dir, r.pattern.FormatString(at))
	var f, createErr = os.Create(path)
	if createErr != nil {
		return "", createErr
	}

	var writeErr = WriteWAV(f, tx.PCM, tx.SampleRate, tx.Channels)
	var closeErr = f.Close()
	if writeErr != nil {
		os.Remove(path)
		return "", writeErr
	}
	if closeErr != nil {
		os.Remove(path)
		return "", closeErr
	}
	return path, nil
}
