package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Invoker sends one prompt and returns the raw answer.
type Invoker func(ctx context.Context, prompt string) (string, error)

// Ask calls invoke until the answer parses, reinforcing the prompt after
// each parse failure. Invocation errors are returned at once; attempts
// that never parse end in an error wrapping ErrParse. Prompt and answer
// text are never logged.
func Ask(ctx context.Context, logger zerolog.Logger, attempts int, prompt string, invoke Invoker) (Response, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		raw, err := invoke(ctx, prompt)
		elapsed := time.Since(start)
		if err != nil {
			return Response{}, err
		}

		parsed, err := ExtractJSON(raw)
		if err != nil {
			lastErr = err
			logger.Warn().Int("attempt", attempt).Err(err).Msg("llm_parse_failed")
			prompt = Reinforce(prompt, err)
			continue
		}

		logger.Info().
			Int("attempt", attempt).
			Dur("response_time", elapsed).
			Bool("parse_success", true).
			Msg("llm_analysis_complete")
		return Response{
			Raw:          raw,
			Parsed:       parsed,
			ParseSuccess: true,
			TokenCount:   len(strings.Fields(raw)),
			Elapsed:      elapsed,
		}, nil
	}
	if !errors.Is(lastErr, ErrParse) {
		lastErr = fmt.Errorf("%w: %v", ErrParse, lastErr)
	}
	return Response{}, fmt.Errorf("failed to parse response after %d attempts: %w", attempts, lastErr)
}
