package generation

import (
	archivezip "archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPackageNamesEntriesBySceneAndSkipsFailures(t *testing.T) {
	result := &Result{Jobs: []Job{
		{LineIndex: 0, SceneNumber: 1, State: StateSucceeded, Image: []byte("first")},
		{LineIndex: 1, SceneNumber: 2, State: StateFailed, Err: errors.New("boom")},
		{LineIndex: 2, SceneNumber: 3, State: StateSucceeded, Image: []byte("third")},
	}}

	data, err := Package(result)
	if err != nil {
		t.Fatalf("Package returned error: %v", err)
	}

	zr, err := archivezip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip not readable: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(zr.File))
	}
	want := map[string]string{
		"scene_1.png": "first",
		"scene_3.png": "third",
	}
	for _, f := range zr.File {
		expected, ok := want[f.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %q: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %q: %v", f.Name, err)
		}
		if string(content) != expected {
			t.Fatalf("entry %q = %q, want %q", f.Name, content, expected)
		}
	}
}

func TestPackageEmptyResult(t *testing.T) {
	result := &Result{Jobs: []Job{
		{SceneNumber: 1, State: StateFailed, Err: errors.New("boom")},
		{SceneNumber: 2, State: StateTimedOut, Err: errors.New("slow")},
	}}
	if _, err := Package(result); !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("expected ErrEmptyArchive, got %v", err)
	}
}

func TestSceneFilename(t *testing.T) {
	if got := SceneFilename(7); got != "scene_7.png" {
		t.Fatalf("SceneFilename(7) = %q", got)
	}
}
