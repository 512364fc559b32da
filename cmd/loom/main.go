// Package main provides the CLI entry point for the Loom coding agent.
//
// Loom drives LLM providers (Anthropic, OpenAI) through a resilient
// request pipeline and executes the tool calls they emit against the
// local workspace.
//
// # Basic Usage
//
// Run a one-shot prompt:
//
//	loom run "summarize the files in this directory"
//
// List the registered tools:
//
//	loom tools list
//
// Validate configuration:
//
//	loom doctor
//
// # Environment Variables
//
//   - LOOM_CONFIG: Path to configuration file (default: loom.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - resilient coding agent CLI",
		Long: `Loom runs prompts against an LLM provider and executes the tool
calls the model emits: reading files, listing directories, searching
the workspace, and running shell commands.

Provider requests pass through a resilience pipeline with rate
limiting, retries, and a circuit breaker. Tool output is validated,
truncated to a context budget, and cached where safe.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildToolsCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}
