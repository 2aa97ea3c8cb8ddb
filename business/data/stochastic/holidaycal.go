package stochastic

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// HolidayCalendar wraps a business calendar so callers can tag logged
// queries and loaded corpus rows with whether they fall on a recognized
// holiday. It is never consulted by the distribution math itself - a
// holiday's effect on delay is already baked into the empirical buckets
// the corpus was built from.
type HolidayCalendar struct {
	calendar *cal.BusinessCalendar
}

// NewHolidayCalendar builds a HolidayCalendar covering the US federal
// holidays observed by the corpus's source agency.
func NewHolidayCalendar() *HolidayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.MemorialDay,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
		us.Juneteenth,
	)
	return &HolidayCalendar{calendar: calendar}
}

// IsHoliday reports whether at falls on a recognized holiday.
func (h *HolidayCalendar) IsHoliday(at time.Time) bool {
	_, observed, _ := h.calendar.IsHoliday(at)
	return observed
}
