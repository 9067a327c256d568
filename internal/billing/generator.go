package billing

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingEnrollmentDate = errors.New("student has no enrollment date")
	ErrMissingDueDay         = errors.New("student has no due day")
	ErrInvalidDueDay         = errors.New("due day must be between 1 and 31")
	ErrInvalidMonthlyFee     = errors.New("monthly fee must be greater than zero")
	ErrFeesAlreadyGenerated  = errors.New("fees were already generated for this student")
	ErrEmptyWindow           = errors.New("billing window does not contain any month")
)

// Terms carries the student fields the generator depends on.
type Terms struct {
	EnrollmentDate *time.Time
	DueDay         *int
	MonthlyFee     *decimal.Decimal
	FeesGenerated  bool
}

// Window selects the months to bill: either the inclusive Start..End month range or,
// when Months is not empty, exactly those months.
type Window struct {
	Start  time.Time
	End    time.Time
	Months []time.Time
}

// DefaultWindow bills from the month after enrollment through December of the same year.
// A December enrollment rolls into the next school year, which starts billing in February.
func DefaultWindow(enrollment time.Time) Window {
	if enrollment.Month() == time.December {
		year := enrollment.Year() + 1
		return Window{
			Start: time.Date(year, time.February, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	start := MonthStart(enrollment).AddDate(0, 1, 0)
	end := time.Date(enrollment.Year(), time.December, 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: end}
}

// Draft is a fee ready to be persisted.
type Draft struct {
	ReferenceMonth time.Time
	Label          string
	DueDate        time.Time
	Amount         decimal.Decimal
	Status         Status
}

// CheckEligibility validates the preconditions shared by single and batch generation.
func CheckEligibility(terms Terms) error {
	if terms.FeesGenerated {
		return ErrFeesAlreadyGenerated
	}
	if terms.EnrollmentDate == nil || terms.EnrollmentDate.IsZero() {
		return ErrMissingEnrollmentDate
	}
	if terms.DueDay == nil {
		return ErrMissingDueDay
	}
	if *terms.DueDay < 1 || *terms.DueDay > 31 {
		return ErrInvalidDueDay
	}
	if terms.MonthlyFee == nil || !terms.MonthlyFee.IsPositive() {
		return ErrInvalidMonthlyFee
	}
	return nil
}

// Generate produces one draft per billed month in chronological order. Nothing is
// produced when a precondition fails.
func Generate(terms Terms, window Window, today time.Time) ([]Draft, error) {
	if err := CheckEligibility(terms); err != nil {
		return nil, err
	}

	months := billedMonths(MonthStart(*terms.EnrollmentDate), window)
	if len(months) == 0 {
		return nil, ErrEmptyWindow
	}

	drafts := make([]Draft, 0, len(months))
	for _, month := range months {
		due := DueDateIn(month.Year(), month.Month(), *terms.DueDay)
		receivable := Receivable{AmountDue: *terms.MonthlyFee, DueDate: due}
		drafts = append(drafts, Draft{
			ReferenceMonth: month,
			Label:          MonthLabel(month),
			DueDate:        due,
			Amount:         *terms.MonthlyFee,
			Status:         receivable.Status(today),
		})
	}
	return drafts, nil
}

func billedMonths(enrollmentMonth time.Time, window Window) []time.Time {
	if len(window.Months) > 0 {
		seen := make(map[time.Time]struct{}, len(window.Months))
		months := make([]time.Time, 0, len(window.Months))
		for _, month := range window.Months {
			m := MonthStart(month)
			if m.Before(enrollmentMonth) {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			months = append(months, m)
		}
		sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
		return months
	}

	if window.Start.IsZero() || window.End.IsZero() {
		return nil
	}
	start := MonthStart(window.Start)
	if start.Before(enrollmentMonth) {
		start = enrollmentMonth
	}
	end := MonthStart(window.End)

	var months []time.Time
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}
