package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rizal/riko/internal/config"
	"github.com/rizal/riko/internal/logger"
	"github.com/rizal/riko/pkg/agent"
	"github.com/rizal/riko/pkg/coretools"
	"github.com/rizal/riko/pkg/shell"
	"github.com/rizal/riko/pkg/tool"
)

// ErrCancelled is returned when a run ends by user cancellation so
// main can exit with a distinct code.
var ErrCancelled = errors.New("run cancelled")

var (
	flagModel        string
	flagTimeout      int
	flagKeepImages   int
	flagCacheMarkers int
	flagMaxTurns     int
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task to completion",
	Long: `Run submits a task to the model and executes the tool calls it
requests until the task completes, fails or is cancelled with Ctrl-C.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runTask,
}

func init() {
	runCmd.Flags().StringVar(&flagModel, "model", "", "model to use")
	runCmd.Flags().IntVar(&flagTimeout, "timeout", 0, "per-command shell timeout in seconds")
	runCmd.Flags().IntVar(&flagKeepImages, "keep-images", 0, "number of recent screenshots kept in context")
	runCmd.Flags().IntVar(&flagCacheMarkers, "cache-markers", 0, "number of prompt-cache boundaries")
	runCmd.Flags().IntVar(&flagMaxTurns, "max-turns", 0, "maximum model turns per run")

	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	applyOverrides(cmd, cfg)

	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	lg, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer lg.Close()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	session := shell.NewSession(lg.GetZerolog(), cfg.CommandTimeout())

	registry := tool.NewRegistry()
	if err := coretools.RegisterCoreTools(registry, coretools.Options{
		Session:        session,
		CommandTimeout: cfg.CommandTimeout(),
		Display:        cfg.Display,
	}); err != nil {
		return err
	}

	client := agent.NewAnthropicClient(agent.AnthropicOptions{
		APIKey:       apiKey,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: cfg.SystemPrompt,
	})

	loop, err := agent.NewLoop(agent.Config{
		MaxTurns:        cfg.MaxTurns,
		KeepImages:      cfg.KeepImages,
		PruneChunk:      cfg.PruneChunk,
		CacheMarkers:    cfg.CacheMarkers,
		ToolConcurrency: cfg.ToolConcurrency,
	}, client, registry, session, lg.GetZerolog())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := loop.Run(ctx, args[0])

	if result.FinalText != "" {
		fmt.Println(result.FinalText)
	}

	switch result.State {
	case agent.StateCompleted:
		return nil
	case agent.StateCancelled:
		return ErrCancelled
	default:
		return err
	}
}

func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("model") {
		cfg.Model = flagModel
	}
	if cmd.Flags().Changed("timeout") {
		cfg.CommandTimeoutSeconds = flagTimeout
	}
	if cmd.Flags().Changed("keep-images") {
		cfg.KeepImages = flagKeepImages
	}
	if cmd.Flags().Changed("cache-markers") {
		cfg.CacheMarkers = flagCacheMarkers
	}
	if cmd.Flags().Changed("max-turns") {
		cfg.MaxTurns = flagMaxTurns
	}
}
