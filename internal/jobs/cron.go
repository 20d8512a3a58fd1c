// Package jobs implements the recurring-job compiler of spec.md §4.4:
// translation of a 5-field cron expression into a systemd calendar-spec
// timer/service unit pair, with filesystem-backed metadata and lifecycle
// operations to enumerate and retract jobs.
package jobs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron"
)

var fieldPattern = regexp.MustCompile(`^[0-9*,/-]+$`)

// ErrInvalidCron is returned (wrapped) when a cron expression fails
// validation, per spec.md §4.4 step 1.
var ErrInvalidCron = fmt.Errorf("invalid cron expression")

// ParseCron validates a 5-field cron expression per spec.md §4.4 step 1:
// exactly 5 whitespace-separated fields, each matching [0-9*,/-]+. It also
// runs the field set through robfig/cron's standard five-field parser
// (minute, hour, day of month, month, day of week; no seconds field), which
// range-checks each field, ahead of the hand-written calendar-spec translator below (systemd
// calendar specs have no off-the-shelf translator; this validation layer
// does).
func ParseCron(expr string) ([5]string, error) {
	var fields [5]string
	tokens := strings.Fields(expr)
	if len(tokens) != 5 {
		return fields, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidCron, len(tokens))
	}
	for i, t := range tokens {
		if !fieldPattern.MatchString(t) {
			return fields, fmt.Errorf("%w: field %d (%q) contains invalid characters", ErrInvalidCron, i+1, t)
		}
		fields[i] = t
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fields, fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return fields, nil
}

// translateField renders one cron field into its systemd calendar-spec
// equivalent per spec.md §4.4 step 2: step notation a/b is preserved;
// pure * becomes literal *; a leading */b becomes 0/b.
func translateField(f string) string {
	if f == "*" {
		return "*"
	}
	if strings.HasPrefix(f, "*/") {
		return "0" + f[1:]
	}
	return f
}

// ToCalendarSpec translates a validated 5-field cron expression
// (minute, hour, day-of-month, month, day-of-week) into a systemd
// OnCalendar specification, per spec.md §4.4 step 2.
func ToCalendarSpec(fields [5]string) string {
	minute := translateField(fields[0])
	hour := translateField(fields[1])
	dom := translateField(fields[2])
	month := translateField(fields[3])
	dow := translateField(fields[4])

	body := fmt.Sprintf("*-%s-%s %s:%s:00", month, dom, hour, minute)
	if dow == "*" {
		return body
	}
	return fmt.Sprintf("%s %s", dow, body)
}
