package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestNewOpensNoFileUntilStart(t *testing.T) {
	tempDir := t.TempDir()
	b := bus.New()
	r := New("recorder", 1, b, tempDir, []messages.Kind{messages.KindVehicleState})

	if r.file != nil {
		t.Error("expected no archive file before Start")
	}
}

func TestStartAndStopOpenAndCloseArchiveFile(t *testing.T) {
	tempDir := t.TempDir()
	b := bus.New()
	r := New("recorder", 1, b, tempDir, []messages.Kind{messages.KindVehicleState})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	}()

	files, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("failed to read temp dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected exactly one archive file after Start, got %d", len(files))
	}
}

func TestRegisteredKindIsArchivedAsJSONLine(t *testing.T) {
	tempDir := t.TempDir()
	b := bus.New()
	r := New("recorder", 1, b, tempDir, []messages.Kind{messages.KindVehicleState})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	r.record(messages.KindVehicleState, messages.VehicleState{
		Header: messages.Header{SourceEntity: 5},
		OpMode: messages.OpModeManeuver,
	})

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	files, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("failed to read temp dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one archive file, got %d", len(files))
	}

	lines := readLines(t, filepath.Join(tempDir, files[0].Name()))
	if len(lines) != 1 {
		t.Fatalf("expected one archived line, got %d", len(lines))
	}

	var entry Entry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("failed to decode archived entry: %v", err)
	}
	if entry.Kind != messages.KindVehicleState.String() {
		t.Errorf("expected kind %s, got %s", messages.KindVehicleState, entry.Kind)
	}

	var vs messages.VehicleState
	if err := json.Unmarshal(entry.Payload, &vs); err != nil {
		t.Fatalf("failed to decode archived payload: %v", err)
	}
	if vs.Header.SourceEntity != 5 || vs.OpMode != messages.OpModeManeuver {
		t.Errorf("unexpected archived payload: %+v", vs)
	}
}

func TestOnlyConfiguredKindsAreSubscribed(t *testing.T) {
	tempDir := t.TempDir()
	b := bus.New()
	_ = New("recorder", 1, b, tempDir, []messages.Kind{messages.KindVehicleState})

	if b.SubscriberCount(messages.KindVehicleState) != 1 {
		t.Errorf("expected the recorder to subscribe to its configured kind")
	}
	if b.SubscriberCount(messages.KindEstimatedState) != 0 {
		t.Errorf("expected the recorder not to subscribe to kinds it was not configured for")
	}
}

func TestRotateAndCompressArchivesPreviousDayAndStartsFresh(t *testing.T) {
	tempDir := t.TempDir()
	b := bus.New()
	r := New("recorder", 1, b, tempDir, []messages.Kind{messages.KindVehicleState})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer r.Stop()

	// rotateAndCompress only compresses the file dated yesterday, so plant
	// one directly rather than waiting on the real clock.
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	yesterdayFile := filepath.Join(tempDir, fmt.Sprintf("vanguard_%s.jsonl", yesterday))
	if err := os.WriteFile(yesterdayFile, []byte(`{"time":"2020-01-01T00:00:00Z"}`+"\n"), 0o644); err != nil {
		t.Fatalf("failed to plant yesterday's archive: %v", err)
	}

	if err := r.rotateAndCompress(); err != nil {
		t.Fatalf("rotateAndCompress() failed: %v", err)
	}

	if _, err := os.Stat(yesterdayFile); !os.IsNotExist(err) {
		t.Error("expected yesterday's uncompressed archive to be removed")
	}
	if _, err := os.Stat(yesterdayFile + ".gz"); err != nil {
		t.Errorf("expected a compressed copy of yesterday's archive: %v", err)
	}

	r.record(messages.KindVehicleState, messages.VehicleState{Header: messages.Header{SourceEntity: 1}})
	if r.file == nil {
		t.Error("expected rotateAndCompress to leave a fresh archive file open")
	}
}
