package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/modelmux"
	"github.com/martinemde/modelmux/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// envConfig carries defaults picked up from the environment; flags override.
type envConfig struct {
	Models        []string      `env:"MODELMUX_MODELS" envSeparator:","`
	ResetInterval time.Duration `env:"MODELMUX_RESET_INTERVAL" envDefault:"3m"`
	MaxRetries    int           `env:"MODELMUX_MAX_RETRIES" envDefault:"0"`
	Timeout       time.Duration `env:"MODELMUX_TIMEOUT" envDefault:"2m"`
	Verbose       bool          `env:"MODELMUX_VERBOSE" envDefault:"false"`
}

type options struct {
	envConfig
	system           string
	maxTokens        int
	temperature      float64
	retryAfterOutput bool
}

func rootCmd() *cobra.Command {
	var opts options
	if err := env.Parse(&opts.envConfig); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse environment: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "modelmux",
		Short: "modelmux — LLM request multiplexer with automatic fallback",
		Long: `modelmux sends prompts to an ordered list of LLM backends,
failing over to the next backend when one is rate limited, overloaded,
or down, and drifting back to the primary once it has had time to recover.

Backends are given as provider:model specs, primary first:

  modelmux chat --models anthropic:claude-sonnet-4-5,openai:gpt-5.2-mini "hello"`,
	}

	root.PersistentFlags().StringSliceVar(&opts.Models, "models", opts.Models,
		"ordered provider:model specs, primary first (env MODELMUX_MODELS)")
	root.PersistentFlags().DurationVar(&opts.ResetInterval, "reset-interval", opts.ResetInterval,
		"how long before the cursor drifts back to the primary backend")
	root.PersistentFlags().IntVar(&opts.MaxRetries, "max-retries", opts.MaxRetries,
		"per-backend retries before a failure surfaces to the multiplexer")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", opts.Timeout,
		"overall request timeout")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", opts.Verbose,
		"log failovers to stderr")
	root.PersistentFlags().StringVar(&opts.system, "system", "",
		"system prompt")
	root.PersistentFlags().IntVar(&opts.maxTokens, "max-tokens", 0,
		"max output tokens (0 uses the backend default)")
	root.PersistentFlags().Float64Var(&opts.temperature, "temperature", -1,
		"sampling temperature (negative uses the backend default)")

	root.AddCommand(chatCmd(&opts))
	root.AddCommand(streamCmd(&opts))
	root.AddCommand(modelsCmd())
	return root
}

func chatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt and print the full response",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts, false)
		},
	}
}

func streamCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream [prompt]",
		Short: "Send a prompt and print tokens as they arrive",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts, true)
		},
	}
	cmd.Flags().BoolVar(&opts.retryAfterOutput, "retry-after-output", true,
		"fail over mid-stream even after partial output was printed")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known models and their providers",
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, m := range providers.Catalog {
				mark := " "
				if m.Default {
					mark = "*"
				}
				line := fmt.Sprintf("%s %s:%s", mark, m.Provider, m.ID)
				if len(m.Aliases) > 0 {
					line += "  (" + strings.Join(m.Aliases, ", ") + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func run(cmd *cobra.Command, args []string, opts *options, streaming bool) error {
	prompt, err := readPrompt(args)
	if err != nil {
		return err
	}

	client, logger, err := buildClient(opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req := buildRequest(prompt, opts)

	if !streaming {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(resp.Text())
		logger.Debug("complete",
			zap.String("backend", resp.Backend),
			zap.Int("input_tokens", resp.Usage.InputTokens),
			zap.Int("output_tokens", resp.Usage.OutputTokens))
		return nil
	}

	stream, err := client.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Flush()
			return err
		}
		switch ev.Type {
		case modelmux.TextDelta:
			out.WriteString(ev.Delta)
			out.Flush()
		case modelmux.StreamError:
			out.Flush()
			fmt.Fprintf(os.Stderr, "\nbackend error: %v\n", ev.Error)
		case modelmux.StreamFinish:
			out.WriteString("\n")
			if ev.Response != nil {
				logger.Debug("finish",
					zap.String("backend", ev.Response.Backend),
					zap.String("reason", ev.Response.FinishReason.Reason))
			}
		}
	}
	return nil
}

func buildClient(opts *options) (*modelmux.Client, *zap.Logger, error) {
	if len(opts.Models) == 0 {
		return nil, nil, errors.New("no backends: set --models or MODELMUX_MODELS")
	}

	logger, err := newLogger(opts.Verbose)
	if err != nil {
		return nil, nil, err
	}

	backends := make([]modelmux.Backend, 0, len(opts.Models))
	for _, spec := range opts.Models {
		backend, err := providers.New(strings.TrimSpace(spec),
			providers.WithMaxRetries(opts.MaxRetries))
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, backend)
	}

	client, err := modelmux.New(backends,
		modelmux.WithResetInterval(opts.ResetInterval),
		modelmux.WithRetryAfterOutput(opts.retryAfterOutput),
		modelmux.WithOnError(func(_ context.Context, err error, backend string) {
			logger.Warn("backend failed, trying next",
				zap.String("backend", backend),
				zap.Error(err))
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

func buildRequest(prompt string, opts *options) modelmux.Request {
	req := modelmux.Request{
		Messages: []modelmux.Message{modelmux.UserMessage(prompt)},
		System:   opts.system,
	}
	if opts.maxTokens > 0 {
		req.MaxTokens = &opts.maxTokens
	}
	if opts.temperature >= 0 {
		req.Temperature = &opts.temperature
	}
	return req
}

// readPrompt joins the args, or reads stdin when no args were given.
func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}
