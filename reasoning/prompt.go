package reasoning

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

const newsSummaryLen = 200

// Instructions closes every prompt.
const Instructions = "## Instructions\n" +
	"Analyze the candidates and return a JSON object with your trade recommendations " +
	"under the key \"recommendations\". For each recommendation include: ticker, action " +
	"(BUY/SELL/HOLD), confidence (0-1), reasoning, and suggested_allocation_pct."

// BuildPrompt renders pkg as markdown sections followed by Instructions.
func BuildPrompt(pkg Package) string {
	var sections []string

	if pkg.Portfolio != (PortfolioSummary{}) {
		sections = append(sections, fmt.Sprintf(
			"## Portfolio State\nTotal value: %s\nCash available: %s\nOpen positions: %d",
			orNA(pkg.Portfolio.TotalValue), orNA(pkg.Portfolio.Cash), pkg.Portfolio.Positions))
	}

	if len(pkg.Candidates) > 0 {
		lines := []string{"## Candidates"}
		for _, c := range pkg.Candidates {
			lines = append(lines, fmt.Sprintf("- **%s** (score: %s, RSI: %s, MACD: %s)",
				c.Ticker, strconv.FormatFloat(c.TotalScore, 'f', -1, 64), floatOrNA(c.RSI), orNA(c.MACDDirection)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(pkg.News) > 0 {
		lines := []string{"## Recent News"}
		for _, n := range pkg.News {
			lines = append(lines, fmt.Sprintf("- %s: %s", orNA(n.Headline), clip(n.Summary, newsSummaryLen)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(pkg.Memory) > 0 {
		lines := []string{"## Past Decisions (Memory)"}
		for _, m := range pkg.Memory {
			outcome := "pending"
			if m.OutcomeAssessed {
				outcome = "P&L: " + floatOrNA(m.OutcomePnL)
			}
			lines = append(lines, fmt.Sprintf("- %s %s (conf: %s, %s)",
				m.Ticker, m.Action, strconv.FormatFloat(m.Confidence, 'f', -1, 64), outcome))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	prompt := "No data available."
	if len(sections) > 0 {
		prompt = strings.Join(sections, "\n\n")
	}
	return prompt + "\n\n" + Instructions
}

// Reinforce appends a demand for bare JSON after a parse failure.
func Reinforce(prompt string, parseErr error) string {
	return fmt.Sprintf("%s\n\nIMPORTANT: Your previous response could not be parsed as JSON. Error: %v\n"+
		"Please respond with ONLY a valid JSON object. No markdown, no code fences, no explanation. Just the raw JSON.",
		prompt, parseErr)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func floatOrNA(f *float64) string {
	if f == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ReadSystemPrompt loads a system prompt file. An empty path or a missing
// file yields "".
func ReadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
