package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronAliases expands the named aliases of spec.md §4.1 to 6-field
// (seconds-included) cron patterns before parsing, grounded on
// original_source/src/scheduler/cron_ext.rs::parse_pattern rather than
// relying on robfig/cron's own (differently-scoped, 5-field) alias
// support.
var cronAliases = map[string]string{
	"@yearly":   "0 0 0 1 1 *",
	"@annually": "0 0 0 1 1 *",
	"@monthly":  "0 0 0 1 * *",
	"@weekly":   "0 0 0 * * 0",
	"@daily":    "0 0 0 * * *",
	"@hourly":   "0 0 * * * *",
}

// ParsePattern resolves aliases and parses pattern into a cron.Schedule
// using the seconds-included field spec.
func ParsePattern(pattern string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(pattern)
	if expanded, ok := cronAliases[strings.ToLower(trimmed)]; ok {
		trimmed = expanded
	}
	return secondsParser.Parse(trimmed)
}

var secondsParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// minIntervalSampleSize mirrors cron_ext.rs::min_interval's "first 100
// upcoming occurrences".
const minIntervalSampleSize = 100

// MinInterval samples the next minIntervalSampleSize occurrences of
// schedule starting from from and returns the smallest gap between
// consecutive occurrences, per spec.md §4.1/SPEC_FULL.md supplemented
// feature #2: cron field combinations (e.g. */7 * * * * * against
// day-of-month wraparound) make static analysis of "the interval" of a
// cron expression unreliable, so this samples instead.
func MinInterval(schedule cron.Schedule, from time.Time) time.Duration {
	occurrences := make([]time.Time, 0, minIntervalSampleSize)
	cursor := from
	for i := 0; i < minIntervalSampleSize; i++ {
		cursor = schedule.Next(cursor)
		occurrences = append(occurrences, cursor)
	}

	min := time.Duration(1<<63 - 1)
	for i := 1; i < len(occurrences); i++ {
		if gap := occurrences[i].Sub(occurrences[i-1]); gap < min {
			min = gap
		}
	}
	return min
}
