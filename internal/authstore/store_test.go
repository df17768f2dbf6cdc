package authstore

import (
	"path/filepath"
	"testing"
)

func TestSetThenLoad(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "auth.json"))

	if err := store.Set("github", map[string]string{"GITHUB_TOKEN": "abc123"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Load("github")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["GITHUB_TOKEN"] != "abc123" {
		t.Errorf("expected GITHUB_TOKEN=abc123, got %+v", got)
	}
}

func TestLoadMissingNameReturnsNil(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "auth.json"))
	got, err := store.Load("nothing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty map, got %+v", got)
	}
}

func TestSetMergesRatherThanOverwrites(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "auth.json"))
	if err := store.Set("s", map[string]string{"A": "1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("s", map[string]string{"B": "2"}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Load("s")
	if got["A"] != "1" || got["B"] != "2" {
		t.Errorf("expected merged A and B, got %+v", got)
	}
}
