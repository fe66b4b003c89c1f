package pms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"staybook/internal/core"
)

// dateLayouts are the date encodings seen in PMS payloads
var dateLayouts = []string{
	core.DateLayout,
	"20060102",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Run is a PMS calendar record covering the inclusive span [From, To]
type Run struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Price    flexFloat `json:"price"`
	NumAvail *flexInt  `json:"numAvail"`
	MinStay  flexInt   `json:"minStay"`
	MaxStay  flexInt   `json:"maxStay"`
}

// ParseDate accepts any of the PMS date encodings and returns the calendar date
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.NormalizeDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ExpandRuns turns run records into exactly one quote per night of r, in date order.
// Runs are applied in response order so a later run overrides earlier ones for the
// same night. Nights covered by no run are returned unavailable with no price.
// The returned count is the number of nights covered by at least one run.
func ExpandRuns(r core.DateRange, runs []Run) ([]core.NightlyQuote, int, error) {
	if err := r.Validate(); err != nil {
		return nil, 0, err
	}
	nights := r.Nights()
	quotes := make([]core.NightlyQuote, nights)
	covered := make([]bool, nights)
	for i, d := range r.Dates() {
		quotes[i] = core.NightlyQuote{Date: d}
	}

	for _, run := range runs {
		from, err := ParseDate(run.From)
		if err != nil {
			return nil, 0, fmt.Errorf("run from: %w", err)
		}
		to := from
		if run.To != "" {
			if to, err = ParseDate(run.To); err != nil {
				return nil, 0, fmt.Errorf("run to: %w", err)
			}
		}
		if to.Before(from) {
			return nil, 0, fmt.Errorf("run %s..%s ends before it starts", run.From, run.To)
		}

		// numAvail == 0 closes the run whatever its price; a missing numAvail means open
		available := run.NumAvail == nil || int(*run.NumAvail) > 0

		// Clip to the requested range
		if from.Before(r.Start) {
			from = r.Start
		}
		for d := from; !d.After(to) && d.Before(r.End); d = d.AddDate(0, 0, 1) {
			i := core.DaysBetween(r.Start, d)
			quotes[i] = core.NightlyQuote{
				Date:      d,
				BasePrice: float64(run.Price),
				Available: available && run.Price > 0,
				MinStay:   int(run.MinStay),
				MaxStay:   int(run.MaxStay),
			}
			covered[i] = true
		}
	}

	count := 0
	for _, c := range covered {
		if c {
			count++
		}
	}
	return quotes, count, nil
}

// flexFloat decodes numbers that may arrive as JSON numbers, strings or null
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes integers that may arrive as JSON numbers, strings, booleans or null
type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	switch string(b) {
	case "", "null", "false":
		*i = 0
		return nil
	case "true":
		*i = 1
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*i = flexInt(v)
	return nil
}
