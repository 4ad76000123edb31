// Package claudecli runs the Claude command line tool as the reasoning
// model. The prompt goes to stdin and the answer is read from stdout.
package claudecli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradeagent/reasoning"
)

// Config controls the subprocess.
type Config struct {
	Path         string
	Args         []string
	Timeout      time.Duration
	MaxRetries   int
	SystemPrompt string
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Path:       "claude",
		Args:       []string{"--print", "--output-format", "json"},
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
}

// Analyzer implements reasoning.Analyzer over the CLI.
type Analyzer struct {
	cfg    Config
	logger zerolog.Logger
}

var _ reasoning.Analyzer = (*Analyzer)(nil)

// New creates an Analyzer. Zero fields in cfg take their defaults.
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.Args == nil {
		cfg.Args = def.Args
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Analyzer{cfg: cfg, logger: log.Logger}
}

// WithLogger sets the logger and returns a.
func (a *Analyzer) WithLogger(l zerolog.Logger) *Analyzer {
	a.logger = l
	return a
}

// Analyze implements reasoning.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, pkg reasoning.Package) (reasoning.Response, error) {
	prompt := reasoning.BuildPrompt(pkg)
	if a.cfg.SystemPrompt != "" {
		prompt = a.cfg.SystemPrompt + "\n\n" + prompt
	}
	return reasoning.Ask(ctx, a.logger, a.cfg.MaxRetries, prompt, a.invoke)
}

func (a *Analyzer) invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, a.cfg.Path, a.cfg.Args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("claude cli not found at %q: %w", a.cfg.Path, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("claude cli timed out after %s", a.cfg.Timeout)
	case err != nil:
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > 200 {
				msg = msg[:200]
			}
			return "", fmt.Errorf("claude cli exited with code %d: %s", exit.ExitCode(), msg)
		}
		return "", fmt.Errorf("claude cli: %w", err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", errors.New("claude cli returned empty output")
	}
	a.logger.Info().Dur("response_time", elapsed).Int("exit_code", 0).Msg("cli_invocation_complete")
	return unwrap(out), nil
}

// unwrap returns the result text of a JSON output envelope, or out itself
// when it is not one.
func unwrap(out string) string {
	var env struct {
		Type    string `json:"type"`
		Result  string `json:"result"`
		IsError bool   `json:"is_error"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil || env.Type != "result" || env.Result == "" {
		return out
	}
	return env.Result
}
