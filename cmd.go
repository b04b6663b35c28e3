package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/felixbrock/papersummarizer/internal/app"
	"github.com/felixbrock/papersummarizer/internal/config"
	"github.com/felixbrock/papersummarizer/internal/llm"
	"github.com/felixbrock/papersummarizer/internal/persistence"
)

const arxivApiUrl = "https://export.arxiv.org/api/query"

type flags struct {
	configPath    string
	backend       string
	llmClient     string
	port          string
	temperature   float64
	logLevel      string
	promptVersion string
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "papersum",
		Short:         "Summarize arXiv papers and learn from reviewer feedback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// flag > env > file > default
	root.PersistentFlags().StringVar(&f.configPath, "config", config.FileName, "Path to the YAML config file")
	root.PersistentFlags().StringVar(&f.backend, "backend", "", "Store backend: langsmith or local (env: PAPERSUM_BACKEND)")
	root.PersistentFlags().StringVar(&f.llmClient, "llm-client", "", "LLM client: openai-go or go-openai (env: PAPERSUM_LLM_CLIENT)")
	root.PersistentFlags().Float64Var(&f.temperature, "temperature", 0, "Default sampling temperature (env: PAPERSUM_TEMPERATURE)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (env: PAPERSUM_LOG_LEVEL)")

	root.AddCommand(newServeCmd(f))
	root.AddCommand(newSummarizeCmd(f))
	root.AddCommand(newConfigCmd())

	return root
}

func newServeCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the summarizer web app",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, closeStores, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStores()

			err = a.Start(ctx)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&f.port, "port", "p", "", "HTTP listen port (env: GOPORT)")
	return cmd
}

func newSummarizeCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize <arxiv id or link>",
		Short: "Summarize one paper in the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			a, closeStores, err := wire(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStores()

			return summarize(cmd.Context(), a.Summarizer(), cfg, f.promptVersion, strings.Join(args, " "),
				cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVar(&f.promptVersion, "prompt-version", "latest", "Prompt commit to summarize with")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect papersum configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of " + config.FileName,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	})

	return cmd
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// summarize streams the raw response to a terminal. Piped output gets only
// the parsed summary.
func summarize(ctx context.Context, s app.Summarizer, cfg config.Config, version string, input string, out io.Writer, tty bool) error {
	session := app.NewSession(cfg.Temperature)
	session.SetPromptVersion(version)

	var onChunk func(string)
	if tty {
		onChunk = func(chunk string) { fmt.Fprint(out, chunk) }
	}

	res, err := s.Summarize(ctx, session, input, onChunk)
	if err != nil {
		return err
	}

	if tty {
		_, err = fmt.Fprintln(out)
		return err
	}
	_, err = fmt.Fprintln(out, res.Parsed.Summary)
	return err
}

func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Backend = f.backend
	}
	if changed("llm-client") {
		cfg.LLMClient = f.llmClient
	}
	if changed("temperature") {
		cfg.Temperature = f.temperature
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Lookup("port") != nil && changed("port") {
		cfg.Port = f.port
	}

	setupLogging(cfg, cmd.ErrOrStderr())

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.Config, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func newProvider(cfg config.Config) llm.Provider {
	llmConfig := llm.Config{APIKey: cfg.HFToken, BaseURL: cfg.LLMURL, Model: cfg.Model}
	if cfg.LLMClient == config.ClientGoOpenAI {
		return llm.NewGoOpenAIProvider(llmConfig)
	}
	return llm.NewOpenAIGoProvider(llmConfig)
}

// wire builds the App for the configured backend. The returned func closes
// the local stores.
func wire(ctx context.Context, cfg config.Config) (*app.App, func(), error) {
	if cfg.HFToken == "" {
		slog.Error("HUGGINGFACEHUB_API_TOKEN environment variable not set")
	}

	a := &app.App{
		PaperRepo: persistence.ArxivRepo{BaseUrl: arxivApiUrl},
		EventRepo: persistence.PHRepo{Url: cfg.PostHogURL, ApiKey: cfg.PostHogAPIKey},
		LLM:       newProvider(cfg),
		Config:    cfg,
	}

	if cfg.Backend == config.BackendLangSmith {
		headers := []string{fmt.Sprintf("x-api-key: %s", cfg.LangSmithAPIKey)}
		a.PromptHub = persistence.HubRepo{BaseHeaders: headers, BaseUrl: cfg.LangSmithURL}
		a.DatasetRepo = persistence.DatasetRepo{BaseHeaders: headers, BaseUrl: cfg.LangSmithURL}
		a.FeedbackRepo = persistence.FeedbackRepo{BaseHeaders: headers, BaseUrl: cfg.LangSmithURL}
		a.RunRepo = persistence.RunRepo{BaseHeaders: headers, BaseUrl: cfg.LangSmithURL, Project: cfg.Project}
		return a, func() {}, nil
	}

	store, err := persistence.NewSQLiteStore(filepath.Join(cfg.DataDir, "papersum.db"))
	if err != nil {
		return nil, nil, err
	}

	hub, err := persistence.NewBoltHub(filepath.Join(cfg.DataDir, "hub.bolt"))
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	closeStores := func() {
		if err := hub.Close(); err != nil {
			slog.Error(fmt.Sprintf("Error occured: %s", err.Error()))
		}
		if err := store.Close(); err != nil {
			slog.Error(fmt.Sprintf("Error occured: %s", err.Error()))
		}
	}

	if err := hub.Seed(ctx, cfg.PromptName, app.DefaultSummarizerPrompt(cfg.PromptName)); err != nil {
		closeStores()
		return nil, nil, err
	}
	if err := hub.Seed(ctx, cfg.OptimizerPromptName, app.DefaultOptimizerPrompt(cfg.OptimizerPromptName)); err != nil {
		closeStores()
		return nil, nil, err
	}

	a.PromptHub = hub
	a.DatasetRepo = store
	a.FeedbackRepo = store
	a.RunRepo = store
	return a, closeStores, nil
}
