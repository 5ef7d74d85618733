package control

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// behavior is the compiled behavior of one kind. A nil parse marks the
// kind as read-only.
type behavior struct {
	step         float64
	defaultValue func(c *Control, now time.Time) any
	parse        func(c *Control, raw any) (any, error)
	render       func(c *Control, in RenderInput) Fragment
}

var behaviors = map[Kind]behavior{
	KindText: {
		defaultValue: func(*Control, time.Time) any { return "" },
		parse:        parseText,
		render:       inputRenderer("text"),
	},
	KindNumber: {
		step:         1,
		defaultValue: func(*Control, time.Time) any { return float64(0) },
		parse:        parseFloat,
		render:       inputRenderer("number"),
	},
	KindInteger: {
		step:         1,
		defaultValue: func(*Control, time.Time) any { return int64(0) },
		parse:        parseInteger,
		render:       inputRenderer("number"),
	},
	KindFloat: {
		step:         0.1,
		defaultValue: func(*Control, time.Time) any { return float64(0) },
		parse:        parseFloat,
		render:       inputRenderer("number"),
	},
	KindCheckbox: {
		defaultValue: func(*Control, time.Time) any { return false },
		parse:        parseBool,
		render:       renderCheckbox,
	},
	KindSelect: {
		defaultValue: func(c *Control, _ time.Time) any {
			if len(c.Choices) == 0 {
				return nil
			}
			return c.Choices[0].Value
		},
		parse:  parseSelect,
		render: renderSelect,
	},
	KindMultiSelect: {
		defaultValue: func(*Control, time.Time) any { return []any{} },
		parse:        parseMultiSelect,
		render:       renderSelect,
	},
	KindColor: {
		defaultValue: func(*Control, time.Time) any { return "#000000" },
		parse:        parseColor,
		render:       inputRenderer("color"),
	},
	KindDate: {
		defaultValue: func(_ *Control, now time.Time) any {
			return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).Format(dateLayout)
		},
		parse:  layoutParser(dateLayout),
		render: inputRenderer("date"),
	},
	KindTime: {
		defaultValue: func(*Control, time.Time) any { return "00:00" },
		parse:        parseClock,
		render:       inputRenderer("time"),
	},
	KindMonth: {
		defaultValue: func(_ *Control, now time.Time) any {
			return fmt.Sprintf("%04d-01", now.Year())
		},
		parse:  layoutParser(monthLayout),
		render: inputRenderer("month"),
	},
	KindWeek: {
		defaultValue: func(_ *Control, now time.Time) any {
			return fmt.Sprintf("%04d-W01", now.Year())
		},
		parse:  parseWeek,
		render: inputRenderer("week"),
	},
	KindRange: {
		step: 1,
		defaultValue: func(c *Control, _ time.Time) any {
			lo, _ := c.bounds()
			return lo
		},
		parse:  parseRange,
		render: renderRange,
	},
	KindLabel: {
		defaultValue: func(*Control, time.Time) any { return nil },
		render:       renderLabel,
	},
}

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

var (
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	weekPattern  = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
)

func invalid(c *Control, raw any, reason string) error {
	return fmt.Errorf("%w for %s control %q: %v (%s)", ErrInvalidValue, c.Kind, c.Name, raw, reason)
}

func parseText(c *Control, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	case float64, int, int64, bool, json.Number:
		return fmt.Sprint(v), nil
	default:
		return nil, invalid(c, raw, "not text")
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseFloat(c *Control, raw any) (any, error) {
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid(c, raw, "not a number")
	}
	return f, nil
}

func parseInteger(c *Control, raw any) (any, error) {
	if s, ok := raw.(string); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, invalid(c, raw, "not an integer")
		}
		return n, nil
	}
	f, ok := toFloat(raw)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, invalid(c, raw, "not an integer")
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f < math.MinInt64 || f >= float64(math.MaxInt64) {
		return nil, invalid(c, raw, "out of range")
	}
	return int64(f), nil
}

func parseBool(c *Control, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1", "yes":
			return true, nil
		case "false", "off", "0", "no", "":
			return false, nil
		}
	}
	return nil, invalid(c, raw, "not a boolean")
}

// sameValue compares option values loosely: JSON decoding turns integers
// into float64 and form inputs deliver strings.
func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func (c *Control) choice(raw any) (any, bool) {
	for _, ch := range c.Choices {
		if sameValue(ch.Value, raw) {
			return ch.Value, true
		}
	}
	return nil, false
}

func parseSelect(c *Control, raw any) (any, error) {
	v, ok := c.choice(raw)
	if !ok {
		return nil, invalid(c, raw, "not one of the declared options")
	}
	return v, nil
}

func parseMultiSelect(c *Control, raw any) (any, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case nil:
		return []any{}, nil
	default:
		return nil, invalid(c, raw, "not a list")
	}
	out := make([]any, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		v, ok := c.choice(item)
		if !ok {
			return nil, invalid(c, item, "not one of the declared options")
		}
		key := fmt.Sprint(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out, nil
}

func parseColor(c *Control, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok || !colorPattern.MatchString(strings.TrimSpace(s)) {
		return nil, invalid(c, raw, "expected #rrggbb")
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

func layoutParser(layout string) func(c *Control, raw any) (any, error) {
	return func(c *Control, raw any) (any, error) {
		s, ok := raw.(string)
		if !ok {
			return nil, invalid(c, raw, "expected "+layout)
		}
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err != nil {
			return nil, invalid(c, raw, "expected "+layout)
		}
		return t.Format(layout), nil
	}
}

func parseClock(c *Control, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(c, raw, "expected HH:MM")
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(layout), nil
		}
	}
	return nil, invalid(c, raw, "expected HH:MM")
}

func parseWeek(c *Control, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(c, raw, "expected YYYY-Www")
	}
	m := weekPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, invalid(c, raw, "expected YYYY-Www")
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	// December 28th always falls in the last ISO week of its year.
	_, weeks := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	if week < 1 || week > weeks {
		return nil, invalid(c, raw, fmt.Sprintf("week out of range 1..%d", weeks))
	}
	return fmt.Sprintf("%04d-W%02d", year, week), nil
}

func parseRange(c *Control, raw any) (any, error) {
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid(c, raw, "not a number")
	}
	lo, hi := c.bounds()
	if c.Step != nil && *c.Step > 0 {
		step := *c.Step
		f = lo + math.Round((f-lo)/step)*step
	}
	return math.Min(math.Max(f, lo), hi), nil
}

// bounds returns the range limits, 0..100 when undeclared.
func (c *Control) bounds() (float64, float64) {
	lo, hi := 0.0, 100.0
	if c.Min != nil {
		lo = *c.Min
	}
	if c.Max != nil {
		hi = *c.Max
	}
	return lo, hi
}
