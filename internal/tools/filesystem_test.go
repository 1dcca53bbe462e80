package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileThenReadFileRoundTrip(t *testing.T) {
	workspace := t.TempDir()
	writeTool := NewWriteFileTool(workspace, true)
	readTool := NewReadFileTool(workspace, true)

	res := writeTool.Execute(context.Background(), map[string]interface{}{
		"path":    "notes.txt",
		"content": "hello world",
	})
	if res.IsError {
		t.Fatalf("write_file failed: %s", res.ForLLM)
	}

	res = readTool.Execute(context.Background(), map[string]interface{}{"path": "notes.txt"})
	if res.IsError {
		t.Fatalf("read_file failed: %s", res.ForLLM)
	}
	if res.ForLLM != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", res.ForLLM)
	}
}

func TestWriteFileCreatesParentDirectories(t *testing.T) {
	workspace := t.TempDir()
	writeTool := NewWriteFileTool(workspace, true)

	res := writeTool.Execute(context.Background(), map[string]interface{}{
		"path":    "nested/dir/file.txt",
		"content": "x",
	})
	if res.IsError {
		t.Fatalf("write_file failed: %s", res.ForLLM)
	}
	if _, err := os.Stat(filepath.Join(workspace, "nested", "dir", "file.txt")); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestWriteFileRejectsPathEscapeWhenRestricted(t *testing.T) {
	workspace := t.TempDir()
	writeTool := NewWriteFileTool(workspace, true)

	res := writeTool.Execute(context.Background(), map[string]interface{}{
		"path":    "../outside.txt",
		"content": "x",
	})
	if !res.IsError {
		t.Fatalf("expected write outside workspace to be denied")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(workspace), "outside.txt")); err == nil {
		t.Fatalf("file should not have been created outside workspace")
	}
}

func TestWriteFileRequiresPath(t *testing.T) {
	tool := NewWriteFileTool(t.TempDir(), true)
	res := tool.Execute(context.Background(), map[string]interface{}{"content": "x"})
	if !res.IsError {
		t.Fatalf("expected error when path is missing")
	}
}

func TestListFilesListsEntriesWithTrailingSlashOnDirs(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.Mkdir(filepath.Join(workspace, "sub"), 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tool := NewListFilesTool(workspace, true)
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if res.IsError {
		t.Fatalf("list_files failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "a.txt") || !strings.Contains(res.ForLLM, "sub/") {
		t.Fatalf("expected listing to include a.txt and sub/, got %q", res.ForLLM)
	}
}

func TestListFilesRejectsPathEscapeWhenRestricted(t *testing.T) {
	workspace := t.TempDir()
	tool := NewListFilesTool(workspace, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": ".."})
	if !res.IsError {
		t.Fatalf("expected listing outside workspace to be denied")
	}
}
