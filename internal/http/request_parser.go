package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"budgetflow/internal/core"
)

const (
	dateLayout = "2006-01-02"
	// maxBodyBytes bounds JSON bodies; imports are the largest.
	maxBodyBytes = 5 << 20
)

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from query parameters, using the
// current month as the default. Unparseable values are validation errors.
func ParseMonthParams(query url.Values, now time.Time) (MonthParams, error) {
	params := MonthParams{Year: now.Year(), Month: int(now.Month())}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1900 || y > 9999 {
			return params, fmt.Errorf("%w: invalid year %q", core.ErrValidation, v)
		}
		params.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return params, fmt.Errorf("%w: invalid month %q", core.ErrValidation, v)
		}
		params.Month = m
	}
	return params, nil
}

// ParseDateRange reads start and end as YYYY-MM-DD. The end date covers the
// whole day.
func ParseDateRange(query url.Values) (start, end time.Time, err error) {
	startStr := strings.TrimSpace(query.Get("start"))
	endStr := strings.TrimSpace(query.Get("end"))
	if startStr == "" || endStr == "" {
		return start, end, fmt.Errorf("%w: start and end dates are required", core.ErrValidation)
	}
	if start, err = parseDate(startStr); err != nil {
		return start, end, err
	}
	if end, err = parseDate(endStr); err != nil {
		return start, end, err
	}
	return start, end.Add(24*time.Hour - time.Nanosecond), nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", core.ErrValidation, s)
	}
	return t, nil
}

// ParsePositiveInt reads an optional positive integer query value.
func ParsePositiveInt(query url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", core.ErrValidation, key)
	}
	return n, nil
}

// DecodeJSON reads a single JSON value from the body into v. Unknown
// fields are rejected so typos surface as 400s.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is empty", core.ErrValidation)
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: request body exceeds %d bytes", core.ErrValidation, maxErr.Limit)
		default:
			return fmt.Errorf("%w: invalid JSON: %v", core.ErrValidation, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must hold a single JSON value", core.ErrValidation)
	}
	return nil
}

// Amount is a request amount given either as a JSON number or as a
// decimal string such as "-1.234,56".
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := core.ParseAmount(s)
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		*a = Amount(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

// necessityScore resolves the score a request sets, from either an explicit
// score or a tier label. Giving both is an error.
func necessityScore(score *float64, tier string) (*float64, error) {
	if tier == "" {
		return score, nil
	}
	if score != nil {
		return nil, fmt.Errorf("%w: give necessityScore or necessityType, not both", core.ErrValidation)
	}
	t, err := core.ParseTier(tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	return core.ScorePtr(t.Score()), nil
}

// sanitizeInput removes control characters other than tab and newlines and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}
