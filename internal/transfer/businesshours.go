package transfer

import (
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

// inWindow evaluates whether now falls inside window, converting now into
// window's configured location first. A nil window means no restriction.
// An empty Location means UTC. An empty Weekdays list means every day of
// the week is eligible.
func inWindow(window *model.HoursWindow, now time.Time) bool {
	if window == nil {
		return true
	}
	loc := time.UTC
	if window.Location != "" {
		if l, err := time.LoadLocation(window.Location); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(window.Weekdays) > 0 {
		dayOK := false
		weekday := int(local.Weekday())
		for _, d := range window.Weekdays {
			if d == weekday {
				dayOK = true
				break
			}
		}
		if !dayOK {
			return false
		}
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	return minuteOfDay >= window.StartMinute && minuteOfDay <= window.EndMinute
}
