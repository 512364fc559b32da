// Package builtin provides the standard filesystem and shell tool suite.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomhq/loom/internal/tools"
)

// Config tunes the builtin suite.
type Config struct {
	// Root is the workspace directory relative paths resolve against.
	// Default: the current working directory.
	Root string `yaml:"root"`

	// Shell runs run_command invocations. Default: /bin/sh.
	Shell string `yaml:"shell"`
}

// Suite returns the builtin tool suite.
func Suite(config Config) tools.Suite {
	if config.Root == "" {
		config.Root = "."
	}
	if config.Shell == "" {
		config.Shell = "/bin/sh"
	}
	b := &suite{config: config}

	return tools.Suite{
		ID:          "builtin",
		Description: "Filesystem and shell tools",
		Tools: []tools.Definition{
			{
				Name:        "read_file",
				Description: "Read a file and return its contents",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"path": {"type": "string", "description": "File path, relative to the workspace root"}
					},
					"required": ["path"]
				}`),
				Handler: b.readFile,
			},
			{
				Name:        "list_dir",
				Description: "List the entries of a directory",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"path": {"type": "string", "description": "Directory path, relative to the workspace root"}
					}
				}`),
				Handler: b.listDir,
			},
			{
				Name:        "search",
				Description: "Search files under a directory for a substring",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"pattern": {"type": "string", "description": "Substring to search for"},
						"path": {"type": "string", "description": "Directory to search, relative to the workspace root"}
					},
					"required": ["pattern"]
				}`),
				Handler: b.search,
			},
			{
				Name:        "run_command",
				Description: "Run a shell command and return combined output",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"command": {"type": "string", "description": "Shell command to run"}
					},
					"required": ["command"]
				}`),
				Handler: b.runCommand,
			},
		},
	}
}

type suite struct {
	config Config
}

// resolve joins a workspace-relative path against the root, rejecting
// traversal out of the workspace.
func (b *suite) resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(b.config.Root, path)
	}
	full = filepath.Clean(full)

	root, err := filepath.Abs(b.config.Root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return abs, nil
}

func (b *suite) readFile(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (b *suite) listDir(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

const maxSearchResults = 200

func (b *suite) search(ctx context.Context, args map[string]any) (any, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	dir := "."
	if p, ok := args["path"].(string); ok && p != "" {
		dir = p
	}
	full, err := b.resolve(dir)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(full, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxSearchResults {
			return filepath.SkipAll
		}
		data, err := os.ReadFile(path)
		if err != nil || !strings.Contains(string(data), pattern) {
			return nil
		}
		rel, err := filepath.Rel(full, path)
		if err != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxSearchResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return fmt.Sprintf("no matches for %q", pattern), nil
	}
	tools.ReportProgress(ctx, len(matches), len(matches), "search complete")
	return strings.Join(matches, "\n"), nil
}

func (b *suite) runCommand(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, b.config.Shell, "-c", command)
	cmd.Dir = b.config.Root
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil, err
	}
	return string(out), nil
}
