package batch

import (
	"context"
	"fmt"
	"strings"
)

// Item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Result is the outcome for one item of a batch.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Summary aggregates the results of a batch.
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped,omitempty"`
	Results    []Result `json:"results"`
}

// ParseStringOrArray accepts a single string, a comma separated string or
// an array of strings. Duplicates are dropped, keeping the first occurrence.
func ParseStringOrArray(param any, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	var raw []string
	switch v := param.(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
			}
			if strings.TrimSpace(s) == "" {
				return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}

	seen := make(map[string]bool, len(raw))
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", paramName)
	}
	return out, nil
}

// Process runs fn for each id in order. Once ctx is done the remaining
// items are reported as skipped rather than attempted.
func Process(ctx context.Context, ids []string, fn func(ctx context.Context, id string) (any, error)) Summary {
	s := Summary{Total: len(ids), Results: make([]Result, 0, len(ids))}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.Results = append(s.Results, Result{ID: id, Status: StatusSkipped, Error: err.Error()})
			s.Skipped++
			continue
		}

		res, err := fn(ctx, id)
		if err != nil {
			s.Results = append(s.Results, Result{ID: id, Status: StatusError, Error: err.Error()})
			s.Failed++
			continue
		}
		s.Results = append(s.Results, Result{ID: id, Status: StatusSuccess, Result: res})
		s.Successful++
	}
	return s
}
