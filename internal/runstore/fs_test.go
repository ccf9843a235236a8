package runstore

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestWriteJSON_ReplacesExistingFileWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.json")

	if err := WriteJSON(path, map[string]string{"v": "1"}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteJSON(path, map[string]string{"v": "2"}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var got map[string]string
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got["v"] != "2" {
		t.Fatalf("expected latest content, got %v", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".sf-tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteTemp_KeepsFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "payloads")
	path, err := WriteTemp(dir, "image-*.txt", []byte("猫\n犬\n"))
	if err != nil {
		t.Fatalf("write temp: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read temp: %v", err)
	}
	if string(data) != "猫\n犬\n" {
		t.Fatalf("unexpected payload content %q", data)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected temp file in %s, got %s", dir, path)
	}
}

func TestListFiles_SkipsHiddenAndOtherSuffixes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video.json", "image.json", ".sf-tmp-1", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "image.lock"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListFiles(dir, ".json")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"image", "video"}) {
		t.Fatalf("unexpected listing: %v", got)
	}

	missing, err := ListFiles(filepath.Join(dir, "nope"), ".json")
	if err != nil || len(missing) != 0 {
		t.Fatalf("expected empty listing for missing dir, got %v %v", missing, err)
	}
}
