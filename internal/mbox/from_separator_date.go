package mbox

import (
	"fmt"
	"strings"
	"time"
)

var separatorDateLayouts = []string{
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 15:04:05 -0700 2006",
	"Mon Jan 2 15:04:05 -07:00 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	"Mon Jan 2 15:04:05 2006 -0700",
	"Mon Jan 2 15:04:05 2006 -07:00",
	"Mon Jan 2 15:04:05 2006 MST",
	"Mon Jan 2 15:04 2006",
	"Mon Jan 2 15:04 -0700 2006",
	"Mon Jan 2 15:04 -07:00 2006",
	"Mon Jan 2 15:04 MST 2006",
	"Mon Jan 2 15:04 2006 -0700",
	"Mon Jan 2 15:04 2006 -07:00",
	"Mon Jan 2 15:04 2006 MST",
	"Jan 2 15:04:05 2006",
	"Jan 2 15:04:05 -0700 2006",
	"Jan 2 15:04:05 -07:00 2006",
	"Jan 2 15:04:05 MST 2006",
	"Jan 2 15:04:05 2006 -0700",
	"Jan 2 15:04:05 2006 -07:00",
	"Jan 2 15:04:05 2006 MST",
	"Jan 2 15:04 2006",
	"Jan 2 15:04 -0700 2006",
	"Jan 2 15:04 -07:00 2006",
	"Jan 2 15:04 MST 2006",
	"Jan 2 15:04 2006 -0700",
	"Jan 2 15:04 2006 -07:00",
	"Jan 2 15:04 2006 MST",
}

var tzAbbrevOffsets = map[string]int{
	"UTC":  0,
	"GMT":  0,
	"UT":   0,
	"Z":    0,
	"EST":  -5 * 60 * 60,
	"EDT":  -4 * 60 * 60,
	"CST":  -6 * 60 * 60,
	"CDT":  -5 * 60 * 60,
	"MST":  -7 * 60 * 60,
	"MDT":  -6 * 60 * 60,
	"PST":  -8 * 60 * 60,
	"PDT":  -7 * 60 * 60,
	"AKST": -9 * 60 * 60,
	"AKDT": -8 * 60 * 60,
	"HST":  -10 * 60 * 60,
}

// Quoted display names in converter separator lines split into several
// whitespace fields; scan no further than this for the date start.
const maxSenderFields = 8

func offsetHHMM(offsetSeconds int) string {
	sign := '+'
	if offsetSeconds < 0 {
		sign = '-'
		offsetSeconds = -offsetSeconds
	}
	h := offsetSeconds / (60 * 60)
	m := (offsetSeconds % (60 * 60)) / 60
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}

func tzOffsetFromAbbrev(abbrev string) (int, bool) {
	abbrev = strings.Trim(abbrev, "()")
	abbrev = strings.ToUpper(abbrev)
	off, ok := tzAbbrevOffsets[abbrev]
	return off, ok
}

func looksLikeTZToken(token string) bool {
	token = strings.Trim(token, "()")
	if _, ok := tzOffsetFromAbbrev(token); ok {
		return true
	}
	if looksLikeNumericOffset(token) {
		return true
	}
	if token == "" {
		return false
	}
	if token != strings.ToUpper(token) {
		return false
	}
	if len(token) > 5 {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}

func looksLikeNumericOffset(token string) bool {
	if token == "" {
		return false
	}
	if token[0] != '+' && token[0] != '-' {
		return false
	}
	if len(token) == 5 {
		for i := 1; i < len(token); i++ {
			if token[i] < '0' || token[i] > '9' {
				return false
			}
		}
		return true
	}
	if len(token) == 6 && token[3] == ':' {
		for _, i := range []int{1, 2, 4, 5} {
			if token[i] < '0' || token[i] > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// ParseFromSeparatorDate parses the ctime-like date portion of an mbox
// "From " separator line.
//
// Separator lines look like "From <sender> <ctime-like date> [extra...]".
// The sender may span multiple fields (readpst quotes display names), so the
// date is searched for at each plausible start position, and producers may
// append trailing tokens ("remote from ..."), so only the date prefix is
// parsed.
//
// This is intentionally permissive and serves as the separator-detection
// heuristic. An unescaped body line of the right shape can be misclassified;
// mbox writers are expected to escape such lines (">From ").
func ParseFromSeparatorDate(line string) (time.Time, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 || fields[0] != "From" {
		return time.Time{}, false
	}

	for start := 2; start <= len(fields)-4 && start <= 1+maxSenderFields; start++ {
		for _, layout := range separatorDateLayouts {
			n := len(strings.Fields(layout))
			if len(fields) < start+n {
				continue
			}
			dateStr := strings.Join(fields[start:start+n], " ")
			if t, err := time.Parse(layout, dateStr); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// ParseFromSeparatorDateStrict parses the date portion of a separator line
// but only accepts numeric offsets or a small allowlist of well-known
// timezone abbreviations. Unlike the permissive variant it never treats an
// arbitrary abbreviation as UTC, so its result is safe to record.
func ParseFromSeparatorDateStrict(line string) (time.Time, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 || fields[0] != "From" {
		return time.Time{}, false
	}

	for start := 2; start <= len(fields)-4 && start <= 1+maxSenderFields; start++ {
		for _, layout := range separatorDateLayouts {
			n := len(strings.Fields(layout))
			if len(fields) < start+n {
				continue
			}
			hasTZ := strings.Contains(layout, "MST") || strings.Contains(layout, "-0700") || strings.Contains(layout, "-07:00")
			// Refuse layouts that would silently drop a trailing token that
			// looks like a timezone.
			if !hasTZ && len(fields) > start+n && looksLikeTZToken(fields[start+n]) {
				continue
			}

			dateFields := fields[start : start+n]
			dateStr := strings.Join(dateFields, " ")

			if !strings.Contains(layout, "MST") {
				if t, err := time.Parse(layout, dateStr); err == nil {
					return t, true
				}
				continue
			}

			// Abbreviation layouts: substitute a numeric offset from the
			// allowlist, since time.Parse assigns unknown abbreviations a
			// zero offset.
			layoutFields := strings.Fields(layout)
			tzIdx := -1
			for i := range layoutFields {
				if layoutFields[i] == "MST" {
					tzIdx = i
					break
				}
			}
			if tzIdx == -1 || tzIdx >= len(dateFields) {
				continue
			}
			off, ok := tzOffsetFromAbbrev(dateFields[tzIdx])
			if !ok {
				continue
			}

			patched := append([]string(nil), dateFields...)
			patched[tzIdx] = offsetHHMM(off)
			numericLayout := strings.Replace(layout, "MST", "-0700", 1)
			if t, err := time.Parse(numericLayout, strings.Join(patched, " ")); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
