package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse marks a model answer with no usable JSON object.
var ErrParse = errors.New("reasoning: unparsable response")

type rawParsed struct {
	Recommendations []json.RawMessage `json:"recommendations"`
	Trades          []json.RawMessage `json:"trades"`
	MarketOutlook   any               `json:"market_outlook"`
	Summary         any               `json:"summary"`
}

// ExtractJSON parses the object spanning the first '{' and the last '}' of
// raw. Recommendations are read from "recommendations", or from "trades"
// when the former is empty. Entries that do not decode are dropped.
func ExtractJSON(raw string) (Parsed, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return Parsed{}, fmt.Errorf("%w: no JSON object found", ErrParse)
	}

	var rp rawParsed
	if err := json.Unmarshal([]byte(raw[start:end+1]), &rp); err != nil {
		return Parsed{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	entries := rp.Recommendations
	if len(entries) == 0 {
		entries = rp.Trades
	}
	out := Parsed{
		MarketOutlook: text(rp.MarketOutlook),
		Summary:       text(rp.Summary),
	}
	for _, e := range entries {
		var r Recommendation
		if err := json.Unmarshal(e, &r); err != nil {
			continue
		}
		out.Recommendations = append(out.Recommendations, r)
	}
	return out, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
