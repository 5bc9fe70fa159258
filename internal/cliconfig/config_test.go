package cliconfig

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	want := &Config{
		Launcher:    "doas",
		Args:        []string{"sh"},
		InitScript:  "/etc/privsh/init.sh",
		ChunkSize:   32768,
		MergeStderr: true,
		Verbose:     true,
	}
	if err := want.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("load returned nil for an existing file")
	}
	if got.Launcher != want.Launcher || got.InitScript != want.InitScript ||
		got.ChunkSize != want.ChunkSize || got.MergeStderr != want.MergeStderr ||
		got.Verbose != want.Verbose {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.Args) != 1 || got.Args[0] != "sh" {
		t.Fatalf("args=%v", got.Args)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != nil {
		t.Fatalf("cfg=%+v, want nil", cfg)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("  ")
	if err != nil || cfg != nil {
		t.Fatalf("cfg=%v err=%v, want nil, nil", cfg, err)
	}
}
