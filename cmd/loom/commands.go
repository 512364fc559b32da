package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/contextwin"
	"github.com/loomhq/loom/internal/observability"
	"github.com/loomhq/loom/internal/pool"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/provider/anthropic"
	"github.com/loomhq/loom/internal/provider/openai"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/internal/tools/builtin"
)

// maxParallelTools caps concurrent tool executions within one turn.
const maxParallelTools = 4

// resolveConfigPath applies the flag > environment > default file precedence.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("LOOM_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("loom.yaml"); err == nil {
		return "loom.yaml"
	}
	return ""
}

func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// session bundles everything a command needs to talk to a model and
// execute the tool calls it emits.
type session struct {
	provider provider.Provider
	runtime  *tools.Runtime
	logger   *observability.Logger
	shutdown func(context.Context) error
}

func newSession(cfg *config.Config, out io.Writer) (*session, error) {
	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tracer, shutdown := observability.NewTracer(cfg.Tracing)

	prov, err := newProvider(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	rt := tools.NewRuntime(cfg.Runtime,
		tools.WithTruncator(contextwin.New(cfg.Truncation)),
		tools.WithLogger(logger),
		tools.WithMetrics(metrics),
		tools.WithTracer(tracer),
		tools.WithObserver(newConsoleObserver(out)),
	)
	if err := rt.RegisterSuite(builtin.Suite(cfg.Workspace)); err != nil {
		return nil, err
	}

	return &session{
		provider: prov,
		runtime:  rt,
		logger:   logger,
		shutdown: shutdown,
	}, nil
}

func newProvider(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (provider.Provider, error) {
	var (
		inner provider.Provider
		err   error
	)
	switch cfg.DefaultProvider {
	case "anthropic":
		inner, err = anthropic.New(cfg.Providers.Anthropic)
	case "openai":
		inner, err = openai.New(cfg.Providers.OpenAI)
	default:
		err = fmt.Errorf("unknown provider %q", cfg.DefaultProvider)
	}
	if err != nil {
		return nil, err
	}
	return provider.NewResilient(inner, cfg.Resilience,
		provider.WithLogger(logger),
		provider.WithMetrics(metrics),
	), nil
}

// newConsoleObserver reports tool activity on stderr so it interleaves
// cleanly with model output on stdout.
func newConsoleObserver(out io.Writer) *tools.Observer {
	return &tools.Observer{
		OnToolStart: func(name string, args map[string]any) {
			fmt.Fprintf(os.Stderr, "* running %s\n", name)
		},
		OnCacheHit: func(name string) {
			fmt.Fprintf(os.Stderr, "* %s (cached)\n", name)
		},
		OnToolWarning: func(w tools.Warning) {
			fmt.Fprintf(os.Stderr, "! %s: %s\n", w.Code, w.Message)
		},
		OnToolProgress: func(current, total int, message string) {
			if message != "" {
				fmt.Fprintf(os.Stderr, "  %s\n", message)
			}
		},
	}
}

// =============================================================================
// Run Command
// =============================================================================

// buildRunCmd creates the "run" command for one-shot prompt execution.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		stream     bool
		maxTurns   int
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a prompt through the agent loop",
		Long: `Send a prompt to the configured provider and execute any tool
calls it emits, feeding results back until the model produces a final
answer or the turn limit is reached.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPrompt(ctx, cmd.OutOrStdout(), cfg, strings.Join(args, " "), stream, maxTurns)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream model output as it arrives")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 10, "Maximum provider round-trips before giving up")

	return cmd
}

func runPrompt(ctx context.Context, out io.Writer, cfg *config.Config, prompt string, stream bool, maxTurns int) error {
	sess, err := newSession(cfg, out)
	if err != nil {
		return err
	}
	defer sess.shutdown(context.Background())

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	sess.logger.Info(ctx, "run started", "provider", sess.provider.Name(), "prompt_bytes", len(prompt))

	messages := []provider.Message{{Role: "user", Content: prompt}}
	toolDefs := sess.runtime.ProviderTools()

	for turn := 0; turn < maxTurns; turn++ {
		var (
			content   string
			toolCalls []provider.ToolCall
		)
		if stream {
			content, toolCalls, err = streamTurn(ctx, out, sess.provider, messages, toolDefs)
		} else {
			var resp *provider.Response
			resp, err = sess.provider.Generate(ctx, messages, toolDefs)
			if err == nil {
				content, toolCalls = resp.Content, resp.ToolCalls
				if content != "" {
					fmt.Fprintln(out, content)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("provider request failed: %w", err)
		}
		if len(toolCalls) == 0 {
			sess.logger.Info(ctx, "run finished", "turns", turn+1)
			return nil
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   content,
			ToolCalls: toolCalls,
		})
		// Tool calls within one turn are independent, so run them
		// concurrently. ParallelMap keeps results in call order.
		results, _ := pool.ParallelMap(ctx, toolCalls, func(ctx context.Context, tc provider.ToolCall) (provider.ToolResult, error) {
			ctx = observability.WithToolCallID(ctx, tc.ID)
			output := sess.runtime.Execute(ctx, tools.Call{Name: tc.Name, Arguments: tc.Input})
			return provider.ToolResult{ToolCallID: tc.ID, Content: output}, nil
		}, maxParallelTools)
		messages = append(messages, provider.Message{Role: "user", ToolResults: results})
	}

	return fmt.Errorf("run did not finish within %d turns", maxTurns)
}

// streamTurn consumes one streamed provider response, echoing text as
// it arrives and collecting the tool calls for execution.
func streamTurn(ctx context.Context, out io.Writer, prov provider.Provider, messages []provider.Message, toolDefs []provider.ToolDef) (string, []provider.ToolCall, error) {
	streamer, ok := prov.(provider.StreamingProvider)
	if !ok {
		return "", nil, fmt.Errorf("provider %s does not support streaming", prov.Name())
	}
	chunks, err := streamer.GenerateStream(ctx, messages, toolDefs)
	if err != nil {
		return "", nil, err
	}

	var (
		content   strings.Builder
		toolCalls []provider.ToolCall
	)
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return content.String(), toolCalls, chunk.Err
		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, *chunk.ToolCall)
		case chunk.Content != "":
			content.WriteString(chunk.Content)
			fmt.Fprint(out, chunk.Content)
		}
		if chunk.Done {
			break
		}
	}
	if content.Len() > 0 {
		fmt.Fprintln(out)
	}
	return content.String(), toolCalls, nil
}

// =============================================================================
// Tools Command
// =============================================================================

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the registered tool suites",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			rt := tools.NewRuntime(cfg.Runtime)
			if err := rt.RegisterSuite(builtin.Suite(cfg.Workspace)); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, def := range rt.ProviderTools() {
				fmt.Fprintf(w, "%s\t%s\n", def.Name, firstLine(def.Description))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// =============================================================================
// Doctor Command
// =============================================================================

// buildDoctorCmd creates the "doctor" command for config validation.
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return printDoctorReport(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func printDoctorReport(out io.Writer, cfg *config.Config) error {
	fmt.Fprintf(out, "default provider: %s\n", cfg.DefaultProvider)
	fmt.Fprintf(out, "anthropic key:    %s\n", keyStatus(cfg.Providers.Anthropic.APIKey))
	fmt.Fprintf(out, "openai key:       %s\n", keyStatus(cfg.Providers.OpenAI.APIKey))
	fmt.Fprintf(out, "workspace root:   %s\n", displayPath(cfg.Workspace.Root))
	fmt.Fprintf(out, "cache ttl:        %s\n", cfg.Runtime.CacheTTL)
	fmt.Fprintf(out, "rate limit:       %d req / %s\n", cfg.Resilience.RateLimit.MaxRequests, cfg.Resilience.RateLimit.Window)
	fmt.Fprintf(out, "retries:          %d (base %s)\n", cfg.Resilience.Retry.MaxRetries, cfg.Resilience.Retry.BaseDelay)
	fmt.Fprintf(out, "breaker:          %d failures / %s\n", cfg.Resilience.Breaker.FailureThreshold, cfg.Resilience.Breaker.ResetTimeout)

	var missing []string
	if cfg.DefaultProvider == "anthropic" && cfg.Providers.Anthropic.APIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if cfg.DefaultProvider == "openai" && cfg.Providers.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials for the default provider: %s", strings.Join(missing, ", "))
	}
	fmt.Fprintln(out, "configuration OK")
	return nil
}

func keyStatus(key string) string {
	if key == "" {
		return "missing"
	}
	return "set"
}

func displayPath(p string) string {
	if p == "" {
		return "(current directory)"
	}
	return p
}
