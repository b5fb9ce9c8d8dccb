package rfc9111

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// §  1.2.2. Delta Seconds
// §
// §  The delta-seconds rule specifies a non-negative integer, representing time
// §  in seconds.
// §
// §      delta-seconds  = 1*DIGIT
// §
// §  If a cache receives a delta-seconds value greater than the greatest
// §  integer it can represent, or if any of its subsequent calculations overflows,
// §  the cache MUST consider the value to be 2147483648 (2^31) or the greatest
// §  positive integer it can conveniently represent.
const maxDeltaSeconds = 2147483648

func deltaSeconds(secondsStr string) (time.Duration, bool) {
	seconds, err := strconv.ParseUint(secondsStr, 10, 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return maxDeltaSeconds * time.Second, true
		}
		return 0, false
	}
	if seconds > maxDeltaSeconds {
		seconds = maxDeltaSeconds
	}
	return time.Second * time.Duration(seconds), true
}

func toDeltaSeconds(duration time.Duration) string {
	return fmt.Sprintf("%.f", duration.Seconds())
}

// This section is from the HTTP specification (RFC9110), not the cache specification
//
// §  5.6.7.  Date/Time Formats
// §
// §       HTTP-date    = IMF-fixdate / obs-date
// §
// §     An example of the preferred format is
// §
// §       Sun, 06 Nov 1994 08:49:37 GMT    ; IMF-fixdate
// §
// §     Examples of the two obsolete formats are
// §
// §       Sunday, 06-Nov-94 08:49:37 GMT   ; obsolete RFC 850 format
// §       Sun Nov  6 08:49:37 1994         ; ANSI C's asctime() format
// §
// §     A recipient that parses a timestamp value in an HTTP field MUST
// §     accept all three HTTP-date formats.
func HttpDate(dateStr string) (time.Time, error) {
	str := strings.TrimSpace(dateStr)
	if str == "" {
		return time.Time{}, fmt.Errorf("empty HTTP-date")
	}
	date, err := http.ParseTime(str)
	if err == nil {
		return date.UTC(), nil
	}
	// §     HTTP-date is case sensitive.  Note that Section 4.2 of [CACHING]
	// §     relaxes this for cache recipients.
	if date, relaxedErr := parseRelaxed(str); relaxedErr == nil {
		return date, nil
	}
	return time.Time{}, fmt.Errorf("malformed HTTP-date %q: %w", dateStr, err)
}

func parseRelaxed(str string) (time.Time, error) {
	fields := strings.Fields(str)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty HTTP-date")
	}
	last := len(fields) - 1
	if strings.EqualFold(fields[last], "GMT") {
		fields[last] = "GMT"
	}
	return http.ParseTime(strings.Join(fields, " "))
}

// ToHttpDate formats t as an IMF-fixdate.
//
// §     When a sender generates a field
// §     that contains one or more timestamps defined as HTTP-date, the sender
// §     MUST generate those timestamps in the IMF-fixdate format.
func ToHttpDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// Coarsen truncates t to the one second resolution of an HTTP-date.
func Coarsen(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
