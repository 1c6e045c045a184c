package hebcal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"minyancal/internal/model"
)

func civil(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFromTime_KnownDates(t *testing.T) {
	tests := []struct {
		civil time.Time
		want  Date
	}{
		{civil(2026, time.September, 12), Date{5787, Tishri, 1}},
		{civil(2026, time.September, 11), Date{5786, Elul, 29}},
		{civil(2026, time.September, 21), Date{5787, Tishri, 10}},
		{civil(2026, time.April, 2), Date{5786, Nisan, 15}},
		{civil(2026, time.May, 22), Date{5786, Sivan, 6}},
		{civil(2026, time.December, 5), Date{5787, Kislev, 25}},
		{civil(2026, time.October, 15), Date{5787, Cheshvan, 4}},
		{civil(2027, time.March, 9), Date{5787, Adar, 30}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromTime(tt.civil), "FromTime(%s)", tt.civil.Format(model.DateLayout))
	}
}

func TestRoundTrip(t *testing.T) {
	start := civil(2020, time.January, 1)
	for i := 0; i < 3*366; i++ {
		day := start.AddDate(0, 0, i)
		h := FromTime(day)
		assert.Equal(t, day, h.Time(time.UTC), "round trip %s via %s", day.Format(model.DateLayout), h)
	}
}

func TestIsLeap(t *testing.T) {
	assert.True(t, IsLeap(5787))
	assert.False(t, IsLeap(5786))
	assert.True(t, IsLeap(5784))
}

func TestDayInfo(t *testing.T) {
	cal := Calendar{Diaspora: true}

	rh := cal.DayInfo(civil(2026, time.September, 12))
	assert.True(t, rh.Festival)
	assert.False(t, rh.RoshChodesh, "Rosh Hashana is not Rosh Chodesh")

	rcCheshvan := cal.DayInfo(civil(2026, time.October, 11))
	assert.True(t, rcCheshvan.RoshChodesh)
	assert.False(t, rcCheshvan.Chanukah)

	firstCandle := cal.DayInfo(civil(2026, time.December, 5))
	assert.True(t, firstCandle.Chanukah)
	assert.False(t, firstCandle.RoshChodesh)

	rcTeves := cal.DayInfo(civil(2026, time.December, 11))
	assert.True(t, rcTeves.Chanukah)
	assert.True(t, rcTeves.RoshChodesh)
	assert.Equal(t, []model.DayCategory{
		model.CategoryRoshChodeshChanukah,
		model.CategoryRoshChodesh,
		model.CategoryChanukah,
		model.CategoryWeekday,
	}, rcTeves.Categories())

	afterChanukah := cal.DayInfo(civil(2026, time.December, 13))
	assert.False(t, afterChanukah.Chanukah)

	secondDayPesach := civil(2026, time.April, 3)
	assert.True(t, cal.DayInfo(secondDayPesach).Festival)
	assert.False(t, Calendar{Diaspora: false}.DayInfo(secondDayPesach).Festival)

	cholHamoed := cal.DayInfo(civil(2026, time.April, 5))
	assert.False(t, cholHamoed.Festival)
}
