package service

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/dto"
)

// cleanText strips markup from free text but keeps apostrophes and ampersands readable.
func cleanText(policy *bluemonday.Policy, value string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(value)))
}

func parseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dto.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, validationf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return parsed, nil
}

func parseOptionalDate(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := parseDate(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseMonth(value string) (time.Time, error) {
	parsed, err := time.Parse(dto.MonthLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, validationf("invalid month %q, expected YYYY-MM", value)
	}
	return parsed, nil
}

// today returns the calendar date in loc as a UTC midnight, the form dates are stored in.
func today(now func() time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return billing.DateOnly(now().In(loc))
}

func uintPtr(v uint) *uint {
	return &v
}

// applyPeriod parses inclusive YYYY-MM-DD bounds into a [from, to) range.
func applyPeriod(from, to string, fromOut, toOut **time.Time) error {
	start, err := parseOptionalDate(from)
	if err != nil {
		return err
	}
	end, err := parseOptionalDate(to)
	if err != nil {
		return err
	}
	if start != nil && end != nil && end.Before(*start) {
		return validationf("period end is before its start")
	}
	*fromOut = start
	if end != nil {
		next := end.AddDate(0, 0, 1)
		*toOut = &next
	}
	return nil
}
