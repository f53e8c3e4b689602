package transfer

import (
	"testing"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

func TestInWindowNilWindowAlwaysOpen(t *testing.T) {
	if !inWindow(nil, time.Now()) {
		t.Fatal("nil window should mean no restriction")
	}
}

func TestInWindowWithinHours(t *testing.T) {
	w := &model.HoursWindow{StartMinute: 9 * 60, EndMinute: 18 * 60}
	// 2026-07-31 is a Friday.
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	if !inWindow(w, now) {
		t.Fatal("14:00 should fall within 09:00-18:00")
	}
}

func TestInWindowOutsideHours(t *testing.T) {
	w := &model.HoursWindow{StartMinute: 9 * 60, EndMinute: 18 * 60}
	now := time.Date(2026, 7, 31, 21, 0, 0, 0, time.UTC)
	if inWindow(w, now) {
		t.Fatal("21:00 should fall outside 09:00-18:00")
	}
}

func TestInWindowWeekdayRestriction(t *testing.T) {
	w := &model.HoursWindow{StartMinute: 0, EndMinute: 23 * 60, Weekdays: []int{1, 2, 3, 4, 5}}
	saturday := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if inWindow(w, saturday) {
		t.Fatal("Saturday should be excluded by weekday restriction")
	}
	friday := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	if !inWindow(w, friday) {
		t.Fatal("Friday should be permitted")
	}
}
