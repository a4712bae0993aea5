package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseDate resolves a devotional date. It accepts YYYY-MM-DD as is and
// otherwise tries natural language ("today", "next sunday", "in 2 days")
// relative to now. An empty input stays empty so the writer can default it.
func parseDate(input string, now time.Time) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}
	if _, err := time.Parse(schema.DateLayout, input); err == nil {
		return input, nil
	}

	r, err := dateParser.Parse(input, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", input, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q (use YYYY-MM-DD or e.g. \"next sunday\")", input)
	}
	return r.Time.Format(schema.DateLayout), nil
}
