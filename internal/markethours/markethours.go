// Package markethours decides whether an exchange is in session, so live
// polling can skip instruments whose market is shut.
package markethours

import (
	"fmt"
	"strings"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE cash session in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Calendar reports whether a market is trading at t.
type Calendar interface {
	IsOpen(t time.Time) bool
}

// AlwaysOpen is the calendar of 24/7 crypto venues.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(time.Time) bool { return true }

// NSE is the National Stock Exchange calendar: 09:15-15:30 IST, Mon-Fri,
// excluding exchange holidays.
type NSE struct{}

func (NSE) IsOpen(t time.Time) bool { return IsMarketOpen(t) }

// ForSource picks the calendar of a candle source name.
func ForSource(source string) Calendar {
	if strings.EqualFold(source, "angel") {
		return NSE{}
	}
	return AlwaysOpen{}
}

// IsMarketOpen returns true if t falls within NSE trading hours.
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !IsHoliday(ist)
}

// NextOpen returns the next session open at or after t.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}

	d := todayOpen.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ {
		if IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// TodayClose returns the session close on t's IST date.
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TodayClose(t).Sub(t)))
	}
	next := NextOpen(t)
	ist := next.In(IST)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		ist.Weekday().String()[:3], ist.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
