package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDateMath is returned for malformed date math expressions.
var ErrDateMath = errors.New("query: invalid date math")

// ResolveDateMath resolves expressions such as "now", "now-1h" or
// "now-1d/d" to epoch milliseconds, relative to nowMillis, in UTC.
//
// Units: y (years), M (months), w (weeks), d (days), h or H (hours),
// m (minutes), s (seconds). "/unit" rounds down to the start of the unit.
func ResolveDateMath(expr string, nowMillis int64) (int64, error) {
	rest, ok := strings.CutPrefix(expr, "now")
	if !ok {
		return 0, fmt.Errorf("%w [%s]: expected now", ErrDateMath, expr)
	}
	t := time.UnixMilli(nowMillis).UTC()

	for len(rest) > 0 {
		op := rest[0]
		rest = rest[1:]
		switch op {
		case '+', '-':
			i := 0
			for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
				i++
			}
			n := 1
			if i > 0 {
				v, err := strconv.Atoi(rest[:i])
				if err != nil {
					return 0, fmt.Errorf("%w [%s]: %w", ErrDateMath, expr, err)
				}
				n = v
			}
			if i >= len(rest) {
				return 0, fmt.Errorf("%w [%s]: missing unit", ErrDateMath, expr)
			}
			if op == '-' {
				n = -n
			}
			var err error
			if t, err = addUnit(t, rest[i], n); err != nil {
				return 0, fmt.Errorf("%w [%s]: %w", ErrDateMath, expr, err)
			}
			rest = rest[i+1:]
		case '/':
			if len(rest) == 0 {
				return 0, fmt.Errorf("%w [%s]: missing rounding unit", ErrDateMath, expr)
			}
			var err error
			if t, err = roundUnit(t, rest[0]); err != nil {
				return 0, fmt.Errorf("%w [%s]: %w", ErrDateMath, expr, err)
			}
			rest = rest[1:]
		default:
			return 0, fmt.Errorf("%w [%s]: unexpected %q", ErrDateMath, expr, op)
		}
	}
	return t.UnixMilli(), nil
}

func addUnit(t time.Time, unit byte, n int) (time.Time, error) {
	switch unit {
	case 'y':
		return t.AddDate(n, 0, 0), nil
	case 'M':
		return t.AddDate(0, n, 0), nil
	case 'w':
		return t.AddDate(0, 0, 7*n), nil
	case 'd':
		return t.AddDate(0, 0, n), nil
	case 'h', 'H':
		return t.Add(time.Duration(n) * time.Hour), nil
	case 'm':
		return t.Add(time.Duration(n) * time.Minute), nil
	case 's':
		return t.Add(time.Duration(n) * time.Second), nil
	}
	return t, fmt.Errorf("unknown unit %q", unit)
}

func roundUnit(t time.Time, unit byte) (time.Time, error) {
	y, mo, d := t.Date()
	switch unit {
	case 'y':
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC), nil
	case 'M':
		return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC), nil
	case 'w':
		// Weeks start on Monday.
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, mo, d-offset, 0, 0, 0, 0, time.UTC), nil
	case 'd':
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), nil
	case 'h', 'H':
		return t.Truncate(time.Hour), nil
	case 'm':
		return t.Truncate(time.Minute), nil
	case 's':
		return t.Truncate(time.Second), nil
	}
	return t, fmt.Errorf("unknown unit %q", unit)
}
