package utils

import (
	"log"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers market-open questions using scmhub/calendar.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// micForSymbol maps a quote symbol suffix to its exchange MIC (ISO 10383).
func micForSymbol(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, ".L"):
		return "xlon"
	case strings.HasSuffix(symbol, ".PA"):
		return "xpar"
	case strings.HasSuffix(symbol, ".DE"):
		return "xfra"
	case strings.HasSuffix(symbol, ".AS"):
		return "xams"
	case strings.HasSuffix(symbol, ".MI"):
		return "xmil"
	case strings.HasSuffix(symbol, ".SW"):
		return "xswx"
	case strings.HasSuffix(symbol, ".TO"):
		return "xtse"
	case strings.HasSuffix(symbol, ".T"):
		return "xtks"
	case strings.HasSuffix(symbol, ".HK"):
		return "xhkg"
	case strings.HasSuffix(symbol, ".AX"):
		return "xasx"
	case strings.HasSuffix(symbol, ".SS"):
		return "xshg"
	case strings.HasSuffix(symbol, ".SZ"):
		return "xshe"
	default:
		return "xnys" // Default US NYSE
	}
}

// -----------------------------------------------------------------------------

func GetCalendar(symbol string) *TradingCalendar {
	mic := micForSymbol(symbol)

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		// Fallback to xnys if not found
		cal = calendar.GetCalendar("xnys")
	}

	if cal == nil {
		log.Printf("WARNING: Failed to load calendar for MIC '%s' and fallback 'xnys'. Using simple fallback (Mon-Fri 09:30-16:00 NY).", mic)
		nyLoc, _ := time.LoadLocation("America/New_York")
		if nyLoc == nil {
			nyLoc = time.UTC // Worst case
		}
		return &TradingCalendar{Fallback: true, Timezone: nyLoc}
	}

	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		// Simple fallback: Mon-Fri
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at a specific minute.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}

		hour := t.Hour()
		minute := t.Minute()

		// 9:30 - 16:00 NY Time
		return (hour > 9 || (hour == 9 && minute >= 30)) && hour < 16
	}

	return tc.Calendar.IsOpen(t)
}
