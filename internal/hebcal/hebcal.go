// Package hebcal converts civil dates to the Hebrew calendar and flags the
// special days that select a minyan's override schedule.
package hebcal

import (
	"fmt"
	"time"

	"minyancal/internal/model"
)

// Month numbers count from Nisan; Tishri starts the year.
const (
	Nisan    = 1
	Iyar     = 2
	Sivan    = 3
	Tammuz   = 4
	Av       = 5
	Elul     = 6
	Tishri   = 7
	Cheshvan = 8
	Kislev   = 9
	Teves    = 10
	Shevat   = 11
	Adar     = 12
	AdarII   = 13
)

// epoch is the fixed day number (R.D.) of 1 Tishri AM 1.
const epoch = -1373427

// rdUnixEpoch is the fixed day number of 1970-01-01.
const rdUnixEpoch = 719163

// Date is a Hebrew calendar date.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%d-%02d-%02d", d.Year, d.Month, d.Day)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	return a - b*floorDiv(a, b)
}

// IsLeap reports whether year has thirteen months.
func IsLeap(year int) bool {
	return mod(7*year+1, 19) < 7
}

func lastMonth(year int) int {
	if IsLeap(year) {
		return AdarII
	}
	return Adar
}

func elapsedDays(year int) int {
	months := floorDiv(235*year-234, 19)
	parts := 12084 + 13753*months
	day := 29*months + floorDiv(parts, 25920)
	if mod(3*(day+1), 7) < 3 {
		return day + 1
	}
	return day
}

func yearLengthCorrection(year int) int {
	ny0 := elapsedDays(year - 1)
	ny1 := elapsedDays(year)
	ny2 := elapsedDays(year + 1)
	switch {
	case ny2-ny1 == 356:
		return 2
	case ny1-ny0 == 382:
		return 1
	default:
		return 0
	}
}

func newYear(year int) int {
	return epoch + elapsedDays(year) + yearLengthCorrection(year)
}

func daysInYear(year int) int {
	return newYear(year+1) - newYear(year)
}

// DaysInMonth returns 29 or 30.
func DaysInMonth(month, year int) int {
	switch {
	case month == Iyar, month == Tammuz, month == Elul, month == Teves, month == AdarII:
		return 29
	case month == Adar && !IsLeap(year):
		return 29
	case month == Cheshvan && daysInYear(year)%10 != 5:
		return 29
	case month == Kislev && daysInYear(year)%10 == 3:
		return 29
	default:
		return 30
	}
}

func (d Date) fixed() int {
	r := newYear(d.Year) + d.Day - 1
	if d.Month < Tishri {
		for m := Tishri; m <= lastMonth(d.Year); m++ {
			r += DaysInMonth(m, d.Year)
		}
		for m := Nisan; m < d.Month; m++ {
			r += DaysInMonth(m, d.Year)
		}
		return r
	}
	for m := Tishri; m < d.Month; m++ {
		r += DaysInMonth(m, d.Year)
	}
	return r
}

func fromFixed(rd int) Date {
	approx := floorDiv((rd-epoch)*98496, 35975351) + 1
	year := approx - 1
	for newYear(year+1) <= rd {
		year++
	}

	month := Tishri
	if rd >= (Date{Year: year, Month: Nisan, Day: 1}).fixed() {
		month = Nisan
	}
	for rd > (Date{Year: year, Month: month, Day: DaysInMonth(month, year)}).fixed() {
		month++
	}
	day := rd - (Date{Year: year, Month: month, Day: 1}).fixed() + 1
	return Date{Year: year, Month: month, Day: day}
}

func fixedFromTime(t time.Time) int {
	civil := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(civil.Unix()/86400) + rdUnixEpoch
}

// FromTime converts the civil date of t (in t's location) to a Hebrew date.
// The Hebrew day is taken to start at midnight.
func FromTime(t time.Time) Date {
	return fromFixed(fixedFromTime(t))
}

// Time returns the civil midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	days := d.fixed() - rdUnixEpoch
	civil := time.Unix(int64(days)*86400, 0).UTC()
	return time.Date(civil.Year(), civil.Month(), civil.Day(), 0, 0, 0, 0, loc)
}

// Calendar flags special days. Diaspora adds the second festival days.
type Calendar struct {
	Diaspora bool
}

type monthDay struct{ month, day int }

var festivals = map[monthDay]bool{
	{Tishri, 1}:  true, // Rosh Hashana
	{Tishri, 2}:  true,
	{Tishri, 10}: true, // Yom Kippur
	{Tishri, 15}: true, // Sukkos
	{Tishri, 22}: true, // Shemini Atzeres
	{Nisan, 15}:  true, // Pesach
	{Nisan, 21}:  true,
	{Sivan, 6}:   true, // Shavuos
}

var diasporaFestivals = map[monthDay]bool{
	{Tishri, 16}: true,
	{Tishri, 23}: true, // Simchas Torah
	{Nisan, 16}:  true,
	{Nisan, 22}:  true,
	{Sivan, 7}:   true,
}

// IsRoshChodesh reports the first of a month (other than Rosh Hashana) or
// the thirtieth of the preceding one.
func IsRoshChodesh(d Date) bool {
	if d.Day == 30 {
		return true
	}
	return d.Day == 1 && d.Month != Tishri
}

// IsChanukah reports 25 Kislev through the following eight days.
func IsChanukah(d Date) bool {
	start := Date{Year: d.Year, Month: Kislev, Day: 25}.fixed()
	rd := d.fixed()
	return rd >= start && rd < start+8
}

// IsFestival reports a biblical festival day (chol hamoed excluded).
func (c Calendar) IsFestival(d Date) bool {
	key := monthDay{d.Month, d.Day}
	if festivals[key] {
		return true
	}
	return c.Diaspora && diasporaFestivals[key]
}

// DayInfo flags the special-day categories of the civil date t.
func (c Calendar) DayInfo(t time.Time) model.DayInfo {
	d := FromTime(t)
	return model.DayInfo{
		Date:        t,
		RoshChodesh: IsRoshChodesh(d),
		Chanukah:    IsChanukah(d),
		Festival:    c.IsFestival(d),
	}
}
