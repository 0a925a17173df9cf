package sdlite

import (
	"time"
)

// DefaultDate is the creation date of every new directory entry: 1 Jan 2000.
var DefaultDate = FATDate(2000, 1, 1)

// DefaultTime is the creation time of every new directory entry: 1 am.
var DefaultTime = FATTime(1, 0, 0)

// FATDate packs a date into a directory entry date field:
//  (year-1980)<<9 | month<<5 | day
func FATDate(year int, month time.Month, day int) uint16 {
	return uint16(year-1980)<<9 | uint16(month)<<5 | uint16(day)
}

// FATTime packs a time into a directory entry time field. Seconds are stored
// with a granularity of two:
//  hour<<11 | minute<<5 | second/2
func FATTime(hour, minute, second int) uint16 {
	return uint16(hour)<<11 | uint16(minute)<<5 | uint16(second>>1)
}

// ParseDate reads the given input as a FAT date, as Microsoft documents it:
//  A FAT directory entry date stamp is a 16- bit field that is basically a
//  date relative to the MS- DOS epoch of 01/01 / 19 80. Here is the format (bit 0 is the
//  LSB of the 16- bit word, bit 15 is the MSB of the 16- bit word):
//   Bits 0–4: Day of month, valid value range 1- 31 inclusive.
//   Bits 5–8: Month of year, 1 = January, valid value range 1–12 inclusive.
//   Bits 9–15: Count of years from 1980, valid value range 0–127 inclusive
//   (1980–2107).
// It returns a time.Time which has always a time of 00:00:00.000000000 UTC.
//
// As value 0 for day and month is invalid in a FAT date
// the value time.Time{} is used to be compatible with time.Time.IsZero() if any of that cases occurs.
func ParseDate(input uint16) time.Time {
	dayOfMonth := input & 0x1F
	monthOfYear := input & 0x1E0 >> 5
	yearSince1980 := input & 0xFE00 >> 9

	if dayOfMonth == 0 || monthOfYear == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(yearSince1980), time.Month(monthOfYear), int(dayOfMonth), 0, 0, 0, 0, time.UTC)
}

// ParseTime reads the given input as a time with a granularity of 2 seconds:
//   Bits 0–4: 2- second count, valid value range 0–29 inclusive (0 – 58 seconds).
//   Bits 5–10: Minutes, valid value range 0–59 inclusive.
//   Bits 11–15: Hours, valid value range 0–23 inclusive.
// It returns a time.Time which has always a date of of January 1, year 1.
//
// Values out of range are added to the time but limited to 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)

	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}

// ParseDateTime combines a date and a time field. It returns time.Time{} if the date is invalid.
func ParseDateTime(date, t uint16) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}
	clock := ParseTime(t)
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
}
