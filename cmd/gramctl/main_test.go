package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	out, err := run(t, "analyze", "--type", "edge-ngram-tokenizer", "--min-gram", "1", "--max-gram", "2", "ABC")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	want := "1:[a]:(0-->1):gram\n2:[ab]:(0-->2):gram\nend:(3):+0\n"
	if out != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", out, want)
	}
}

func TestAnalyzeCommandRejectsInvalidSettings(t *testing.T) {
	if _, err := run(t, "analyze", "--min-gram", "4", "--max-gram", "2", "abc"); err == nil {
		t.Fatalf("expected min > max to fail")
	}
	if _, err := run(t, "analyze", "--side", "back", "abc"); err == nil {
		t.Fatalf("expected back side on a per-word analyzer to fail")
	}
	if _, err := run(t, "analyze"); err == nil {
		t.Fatalf("expected missing text to fail")
	}
}

func TestAnalyzersCommandIncludesConfiguredAnalyzers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gramsearch.toml")
	content := `
[analysis.analyzers.titles]
type = "edge-ngram-analyzer"
min_gram = 1
max_gram = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := run(t, "analyzers", "--config", path)
	if err != nil {
		t.Fatalf("analyzers: %v", err)
	}
	if !strings.Contains(out, "titles\tedge-ngram-analyzer[1,2]\n") {
		t.Fatalf("expected configured analyzer in listing, got:\n%s", out)
	}
	if !strings.Contains(out, "whitespace\twhitespace\n") {
		t.Fatalf("expected built-in analyzers in listing, got:\n%s", out)
	}

	out, err = run(t, "analyze", "--config", path, "--analyzer", "titles", "Go")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.HasPrefix(out, "1:[g]:(0-->1):gram\n1:[go]:(0-->2):gram\n") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
