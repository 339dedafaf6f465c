package tool

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type dateTimeArgs struct {
	Operation string `json:"operation,omitempty" jsonschema:"description=Operation to perform,enum=now,enum=date,enum=time,enum=timestamp"`
	Format    string `json:"format,omitempty" jsonschema:"description=strftime output format for now (default %Y-%m-%d %H:%M:%S)"`
	Timezone  string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name (default UTC)"`
}

const defaultDateTimeFormat = "%Y-%m-%d %H:%M:%S"

func newDateTime(now func() time.Time) Tool {
	return MustFunctionTool("datetime", "Get current date/time or perform date calculations",
		func(_ context.Context, args dateTimeArgs) (any, error) {
			loc := time.UTC
			if args.Timezone != "" {
				l, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", args.Timezone)
				}
				loc = l
			}
			t := now().In(loc)

			switch args.Operation {
			case "", "now":
				format := args.Format
				if format == "" {
					format = defaultDateTimeFormat
				}
				return map[string]any{
					"datetime":  Strftime(t, format),
					"timestamp": float64(t.UnixMilli()) / 1000,
					"timezone":  loc.String(),
					"iso":       t.Format(time.RFC3339Nano),
				}, nil
			case "date":
				return map[string]any{
					"date":    t.Format("2006-01-02"),
					"year":    t.Year(),
					"month":   int(t.Month()),
					"day":     t.Day(),
					"weekday": t.Weekday().String(),
				}, nil
			case "time":
				return map[string]any{
					"time":   t.Format("15:04:05"),
					"hour":   t.Hour(),
					"minute": t.Minute(),
					"second": t.Second(),
				}, nil
			case "timestamp":
				return map[string]any{
					"timestamp":    float64(t.UnixMilli()) / 1000,
					"timestamp_ms": t.UnixMilli(),
				}, nil
			default:
				return nil, fmt.Errorf("unknown operation: %s", args.Operation)
			}
		})
}

var strftimeLayouts = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'A': "Monday",
	'a': "Mon",
	'B': "January",
	'b': "Jan",
	'Z': "MST",
	'z': "-0700",
}

// Strftime formats t with the common strftime directives. Unknown directives
// are written through unchanged.
func Strftime(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		d := format[i]
		switch d {
		case '%':
			b.WriteByte('%')
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		default:
			if layout, ok := strftimeLayouts[d]; ok {
				b.WriteString(t.Format(layout))
			} else {
				b.WriteByte('%')
				b.WriteByte(d)
			}
		}
	}
	return b.String()
}
