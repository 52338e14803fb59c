package markethours

import "time"

// nseHolidays lists NSE equity trading holidays (IST dates). Weekend
// holidays are omitted; dates marked tentative follow the lunar calendar.
var nseHolidays = []string{
	// 2025
	"2025-02-26", // Mahashivratri
	"2025-03-14", // Holi
	"2025-03-31", // Id-ul-Fitr
	"2025-04-10", // Mahavir Jayanti
	"2025-04-14", // Dr. Ambedkar Jayanti
	"2025-04-18", // Good Friday
	"2025-05-01", // Maharashtra Day
	"2025-08-15", // Independence Day
	"2025-08-27", // Ganesh Chaturthi
	"2025-10-02", // Gandhi Jayanti / Dussehra
	"2025-10-21", // Diwali Laxmi Pujan
	"2025-10-22", // Balipratipada
	"2025-11-05", // Guru Nanak Jayanti
	"2025-12-25", // Christmas

	// 2026
	"2026-01-26", // Republic Day
	"2026-02-17", // Mahashivratri (tentative)
	"2026-03-31", // Id-ul-Fitr (tentative)
	"2026-04-02", // Ram Navami (tentative)
	"2026-04-06", // Mahavir Jayanti
	"2026-04-10", // Good Friday
	"2026-04-14", // Dr. Ambedkar Jayanti
	"2026-05-01", // Maharashtra Day
	"2026-07-06", // Muharram (tentative)
	"2026-10-02", // Gandhi Jayanti
	"2026-10-20", // Dussehra
	"2026-11-05", // Diwali (tentative)
	"2026-11-06", // Balipratipada (tentative)
	"2026-11-19", // Guru Nanak Jayanti
	"2026-12-25", // Christmas
}

var holidaySet = func() map[string]bool {
	m := make(map[string]bool, len(nseHolidays))
	for _, d := range nseHolidays {
		m[d] = true
	}
	return m
}()

// IsHoliday returns true if the IST date of t is an NSE holiday.
func IsHoliday(t time.Time) bool {
	return holidaySet[t.In(IST).Format(time.DateOnly)]
}
