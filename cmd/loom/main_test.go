package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCmdVersion(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "commit") {
		t.Errorf("version output missing build info: %q", out.String())
	}
}

func TestToolsListShowsBuiltins(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools", "list", "--config", writeTestConfig(t)})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, name := range []string{"read_file", "list_dir", "search", "run_command"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("tools list missing %s:\n%s", name, out.String())
		}
	}
}

func TestDoctorFailsWithoutCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	if err := os.WriteFile(path, []byte("default_provider: anthropic\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := buildRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"doctor", "--config", path})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("expected missing credential error, got %v", err)
	}
}

func TestDoctorReportsHealthyConfig(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"doctor", "--config", writeTestConfig(t)})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "configuration OK") {
		t.Errorf("doctor output: %s", out.String())
	}
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	t.Setenv("LOOM_CONFIG", "/tmp/from-env.yaml")

	if got := resolveConfigPath("/tmp/flag.yaml"); got != "/tmp/flag.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := resolveConfigPath(""); got != "/tmp/from-env.yaml" {
		t.Errorf("env should win over default, got %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("plain"); got != "plain" {
		t.Errorf("firstLine = %q", got)
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := "default_provider: anthropic\n" +
		"workspace:\n" +
		"  root: " + dir + "\n" +
		"providers:\n" +
		"  anthropic:\n" +
		"    api_key: sk-ant-test\n"
	path := filepath.Join(dir, "loom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
