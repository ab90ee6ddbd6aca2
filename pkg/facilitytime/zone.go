// Package facilitytime converts between stored UTC instants and the
// facility's local calendar.
//
// Local times are always derived on read; nothing local is ever persisted.
package facilitytime

import (
	"strings"
	"time"
	_ "time/tzdata" // containers often ship without a zoneinfo database

	dErrors "gatehouse/pkg/domain-errors"
)

const (
	// DefaultZoneName is the facility's IANA zone.
	DefaultZoneName = "America/Bogota"

	DateLayout  = "2006-01-02"
	ClockLayout = "15:04:05"
)

// fallback applies when the zone database cannot resolve the name.
// Colombia has no daylight saving, so a fixed offset is exact.
var fallback = time.FixedZone("COT", -5*60*60)

// Zone is the facility timezone.
type Zone struct {
	loc *time.Location
}

// Load resolves an IANA zone name, falling back to UTC-5 when it cannot.
func Load(name string) Zone {
	if strings.TrimSpace(name) == "" {
		name = DefaultZoneName
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{loc: fallback}
	}
	return Zone{loc: loc}
}

// Default is the facility's standard zone.
func Default() Zone {
	return Load(DefaultZoneName)
}

// Fixed builds a zone from a constant offset.
func Fixed(name string, offset time.Duration) Zone {
	return Zone{loc: time.FixedZone(name, int(offset/time.Second))}
}

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return fallback
	}
	return z.loc
}

// ToLocal renders a UTC instant as facility wall-clock time.
func (z Zone) ToLocal(t time.Time) time.Time {
	return t.In(z.Location())
}

// ToLocalPtr is ToLocal for optional instants.
func (z Zone) ToLocalPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	local := z.ToLocal(*t)
	return &local
}

// DayStartUTC returns local midnight of the local calendar day containing t,
// as a UTC instant.
func (z Zone) DayStartUTC(t time.Time) time.Time {
	local := t.In(z.Location())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, z.Location()).UTC()
}

// NextDayStartUTC returns local midnight of the day after the local calendar
// day containing t. It is the exclusive upper bound that covers that day.
func (z Zone) NextDayStartUTC(t time.Time) time.Time {
	local := t.In(z.Location())
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, z.Location()).UTC()
}

// ParseDay reads a local calendar day from either "2006-01-02" or an
// RFC 3339 timestamp, whose facility-local date is used.
func (z Zone) ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(DateLayout, s, z.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(z.Location()), nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, "date must be YYYY-MM-DD or RFC 3339")
}

// Range converts optional from/until day strings into a half-open UTC
// interval [from, until). Empty strings leave that side open.
func (z Zone) Range(from, until string) (*time.Time, *time.Time, error) {
	fe := dErrors.FieldErrors{}
	var lower, upper *time.Time
	if strings.TrimSpace(from) != "" {
		day, err := z.ParseDay(from)
		if err != nil {
			fe.Add("desde", "must be YYYY-MM-DD or RFC 3339")
		} else {
			start := z.DayStartUTC(day)
			lower = &start
		}
	}
	if strings.TrimSpace(until) != "" {
		day, err := z.ParseDay(until)
		if err != nil {
			fe.Add("hasta", "must be YYYY-MM-DD or RFC 3339")
		} else {
			end := z.NextDayStartUTC(day)
			upper = &end
		}
	}
	if err := fe.Err(); err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}

// FormatDate renders the local calendar date of a UTC instant.
func (z Zone) FormatDate(t time.Time) string {
	return z.ToLocal(t).Format(DateLayout)
}

// FormatClock renders the local wall-clock time of a UTC instant.
func (z Zone) FormatClock(t time.Time) string {
	return z.ToLocal(t).Format(ClockLayout)
}
