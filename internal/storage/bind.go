package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CourseIDParam is the named parameter every dataset query binds.
const CourseIDParam = ":course_id"

// PlaceholderStyle is the positional parameter syntax a driver expects.
type PlaceholderStyle int

const (
	// Question is "?" (MySQL, SQLite). Every occurrence takes its own argument.
	Question PlaceholderStyle = iota
	// Dollar is "$1" (Postgres).
	Dollar
	// AtP is "@p1" (SQL Server).
	AtP
)

// Bind rewrites every :course_id in query to the driver placeholder and returns
// the matching argument list.
//
// Edge cases:
//   - Identifiers that merely start with the parameter name (":course_id_x")
//     are left alone.
//   - Numbered styles reuse a single argument for repeated occurrences; the
//     Question style repeats the argument once per occurrence.
//   - A query without the parameter gets no arguments.
func Bind(query string, style PlaceholderStyle, courseID string) (string, []any) {
	var (
		b    strings.Builder
		args []any
		rest = query
	)
	for {
		i := strings.Index(rest, CourseIDParam)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		end := i + len(CourseIDParam)
		if end < len(rest) && isIdentByte(rest[end]) {
			b.WriteString(rest[:end])
			rest = rest[end:]
			continue
		}

		b.WriteString(rest[:i])
		switch style {
		case Dollar:
			b.WriteString("$1")
			if len(args) == 0 {
				args = append(args, courseID)
			}
		case AtP:
			b.WriteString("@p1")
			if len(args) == 0 {
				args = append(args, courseID)
			}
		default:
			b.WriteString("?")
			args = append(args, courseID)
		}
		rest = rest[end:]
	}
	return b.String(), args
}

func isIdentByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// TimeLayout renders time values the way MySQL prints DATETIME(6).
const TimeLayout = "2006-01-02 15:04:05.999999"

// FormatValue renders a value returned by a database/sql driver as CSV text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(TimeLayout)
	default:
		return fmt.Sprint(x)
	}
}
