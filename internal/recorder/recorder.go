// Package recorder implements a black-box flight recorder: a bus
// subscriber that archives every message of a configured set of kinds to
// a daily, gzip-rotated JSON-lines file, independent of and redundant
// with the Historian's structured Postgres history — this is the raw
// tape, kept for forensic replay after a mission when a database may not
// be reachable.
package recorder

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/task"
)

// Entry is one archived line.
type Entry struct {
	Time    time.Time       `json:"time"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Recorder is the black-box task. Construct with New, then call Start
// before handing it to a task.Runtime, and Stop after the runtime's
// context is done.
type Recorder struct {
	*task.Task

	outputDir string

	mu       sync.Mutex
	file     *os.File
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Recorder bound to b, archiving every message whose kind
// is in kinds under outputDir.
func New(name string, entityID int32, b *bus.Bus, outputDir string, kinds []messages.Kind) *Recorder {
	r := &Recorder{outputDir: outputDir, stopChan: make(chan struct{})}
	r.Task = task.New(name, entityID, b, nil, 1024)

	for _, kind := range kinds {
		k := kind
		r.On(k, func(msg bus.Message) { r.record(k, msg.Payload) })
	}
	return r
}

// Start opens today's archive file and begins the daily rotation timer.
func (r *Recorder) Start() error {
	if err := r.rotateFile(); err != nil {
		return err
	}
	r.wg.Add(1)
	go r.rotationTimer()
	return nil
}

// Stop ends the rotation timer and closes the current archive file.
func (r *Recorder) Stop() error {
	close(r.stopChan)
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (r *Recorder) record(kind messages.Kind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("recorder %s: failed to marshal %s payload: %v", r.Name(), kind, err)
		return
	}
	line, err := json.Marshal(Entry{Time: time.Now(), Kind: kind.String(), Payload: data})
	if err != nil {
		log.Printf("recorder %s: failed to marshal entry: %v", r.Name(), err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		if err := r.rotateFileLocked(); err != nil {
			log.Printf("recorder %s: failed to open archive file: %v", r.Name(), err)
			return
		}
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		log.Printf("recorder %s: failed to write archive entry: %v", r.Name(), err)
	}
}

func (r *Recorder) rotationTimer() {
	defer r.wg.Done()

	for {
		now := time.Now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		waitTime := nextMidnight.Sub(now)

		select {
		case <-time.After(waitTime):
			if err := r.rotateAndCompress(); err != nil {
				log.Printf("recorder: error during rotation: %v", err)
			}
		case <-r.stopChan:
			return
		}
	}
}

func (r *Recorder) rotateAndCompress() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	yesterdayFile := filepath.Join(r.outputDir, fmt.Sprintf("vanguard_%s.jsonl", yesterday.Format("2006-01-02")))

	if _, err := os.Stat(yesterdayFile); err == nil {
		if err := compressFile(yesterdayFile); err != nil {
			return fmt.Errorf("recorder: failed to compress archive file: %w", err)
		}
	}

	return r.rotateFileLocked()
}

func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		gzipWriter.Close()
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

func (r *Recorder) rotateFile() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateFileLocked()
}

func (r *Recorder) rotateFileLocked() error {
	timestamp := time.Now().UTC().Format("2006-01-02")
	filename := filepath.Join(r.outputDir, fmt.Sprintf("vanguard_%s.jsonl", timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("recorder: failed to create archive file: %w", err)
	}
	r.file = file
	return nil
}
