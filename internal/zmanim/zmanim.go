// Package zmanim computes sunrise, sunset and the halachic day boundaries
// derived from them for a fixed geographic position.
package zmanim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"minyancal/internal/model"
)

// ErrNoEvent is returned when the sun does not cross the requested altitude
// on the given day (polar latitudes).
var ErrNoEvent = errors.New("zmanim: sun does not reach altitude")

// Times holds the instants of one calendar day, in the lookup's location.
type Times struct {
	Date          time.Time
	Alos          time.Time
	Sunrise       time.Time
	SofZmanShma   time.Time
	SofZmanTefila time.Time
	Chatzos       time.Time
	MinchaGedola  time.Time
	MinchaKetana  time.Time
	Plag          time.Time
	Sunset        time.Time
	Tzais         time.Time
}

// Get returns the named instant.
func (t Times) Get(z model.Zman) (time.Time, bool) {
	var v time.Time
	switch z {
	case model.Alos:
		v = t.Alos
	case model.Sunrise:
		v = t.Sunrise
	case model.SofZmanShma:
		v = t.SofZmanShma
	case model.SofZmanTefila:
		v = t.SofZmanTefila
	case model.Chatzos:
		v = t.Chatzos
	case model.MinchaGedola:
		v = t.MinchaGedola
	case model.MinchaKetana:
		v = t.MinchaKetana
	case model.PlagHamincha:
		v = t.Plag
	case model.Sunset:
		v = t.Sunset
	case model.Tzais:
		v = t.Tzais
	default:
		return time.Time{}, false
	}
	return v, !v.IsZero()
}

// Lookup returns the day's instants for a date.
type Lookup interface {
	Times(date time.Time) (Times, error)
}

// Calculator implements Lookup with the NOAA sunrise equation. Shaos zmaniyos
// follow the GRA (sunrise to sunset).
type Calculator struct {
	Latitude  float64
	Longitude float64
	// Elevation in meters lowers the apparent horizon for sunrise/sunset.
	Elevation float64
	Location  *time.Location
}

const (
	j2000         = 2451545.0
	unixEpochJD   = 2440587.5
	alosDegrees   = 16.1
	tzaisDegrees  = 8.5
	horizonOffset = 0.833
)

// NewCalculator builds a Calculator; a nil location means time.Local.
func NewCalculator(lat, lon, elevation float64, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{Latitude: lat, Longitude: lon, Elevation: elevation, Location: loc}
}

func (c *Calculator) Times(date time.Time) (Times, error) {
	loc := c.Location
	d := date.In(loc)
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)

	horizon := horizonOffset
	if c.Elevation > 0 {
		horizon += 2.076 * math.Sqrt(c.Elevation) / 60
	}

	rise, set, err := c.crossing(day, horizon)
	if err != nil {
		return Times{}, fmt.Errorf("sunrise/sunset %s: %w", day.Format(model.DateLayout), err)
	}
	alos, _, err := c.crossing(day, alosDegrees)
	if err != nil {
		return Times{}, fmt.Errorf("alos %s: %w", day.Format(model.DateLayout), err)
	}
	_, tzais, err := c.crossing(day, tzaisDegrees)
	if err != nil {
		return Times{}, fmt.Errorf("tzais %s: %w", day.Format(model.DateLayout), err)
	}

	hour := set.Sub(rise) / 12
	at := func(hours float64) time.Time {
		return rise.Add(time.Duration(hours * float64(hour))).Truncate(time.Second)
	}

	return Times{
		Date:          day,
		Alos:          alos,
		Sunrise:       rise,
		SofZmanShma:   at(3),
		SofZmanTefila: at(4),
		Chatzos:       at(6),
		MinchaGedola:  at(6.5),
		MinchaKetana:  at(9.5),
		Plag:          at(10.75),
		Sunset:        set,
		Tzais:         tzais,
	}, nil
}

// crossing returns the morning and evening instants at which the sun's
// center is depression degrees below the horizon.
func (c *Calculator) crossing(day time.Time, depression float64) (time.Time, time.Time, error) {
	noonUTC := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC)
	jd := float64(noonUTC.Unix())/86400 + unixEpochJD

	n := jd - j2000 + 0.0008
	jStar := n - c.Longitude/360

	m := math.Mod(357.5291+0.98560028*jStar, 360)
	mRad := rad(m)
	center := 1.9148*math.Sin(mRad) + 0.0200*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)
	lambda := math.Mod(m+center+180+102.9372, 360)
	lRad := rad(lambda)

	transit := j2000 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lRad)

	sinDecl := math.Sin(lRad) * math.Sin(rad(23.4397))
	cosDecl := math.Cos(math.Asin(sinDecl))
	lat := rad(c.Latitude)

	cosHour := (math.Sin(rad(-depression)) - math.Sin(lat)*sinDecl) / (math.Cos(lat) * cosDecl)
	if cosHour < -1 || cosHour > 1 {
		return time.Time{}, time.Time{}, ErrNoEvent
	}
	hourAngle := deg(math.Acos(cosHour))

	rise := fromJulian(transit-hourAngle/360, c.Location)
	set := fromJulian(transit+hourAngle/360, c.Location)
	return rise, set, nil
}

func fromJulian(jd float64, loc *time.Location) time.Time {
	secs := (jd - unixEpochJD) * 86400
	whole := math.Floor(secs)
	return time.Unix(int64(whole), 0).In(loc)
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
