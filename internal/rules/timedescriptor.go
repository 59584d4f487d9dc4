// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package rules

import (
	"time"

	"github.com/pkg/errors"
)

// RepeatingMode selects the repetition pattern of a calendar or time
// event item.
type RepeatingMode string

const (
	RepeatingNone    RepeatingMode = "none"
	RepeatingHourly  RepeatingMode = "hourly"
	RepeatingDaily   RepeatingMode = "daily"
	RepeatingWeekly  RepeatingMode = "weekly"
	RepeatingMonthly RepeatingMode = "monthly"
	RepeatingYearly  RepeatingMode = "yearly"
)

// RepeatingOption refines a repeating mode. WeekDays are ISO weekdays
// (1=Monday..7=Sunday), MonthDays are days of month.
type RepeatingOption struct {
	Mode      RepeatingMode `json:"mode,omitempty"`
	WeekDays  []int         `json:"weekDays,omitempty"`
	MonthDays []int         `json:"monthDays,omitempty"`
}

func (r RepeatingOption) validate() RuleError {
	switch r.Mode {
	case "", RepeatingNone, RepeatingHourly, RepeatingDaily, RepeatingWeekly,
		RepeatingMonthly, RepeatingYearly:
	default:
		return RuleErrorInvalidRepeatingOption
	}
	if len(r.WeekDays) > 0 && r.Mode != RepeatingWeekly {
		return RuleErrorInvalidRepeatingOption
	}
	if len(r.MonthDays) > 0 && r.Mode != RepeatingMonthly {
		return RuleErrorInvalidRepeatingOption
	}
	for _, wd := range r.WeekDays {
		if wd < 1 || wd > 7 {
			return RuleErrorInvalidRepeatingOption
		}
	}
	for _, md := range r.MonthDays {
		if md < 1 || md > 31 {
			return RuleErrorInvalidRepeatingOption
		}
	}
	if r.Mode == RepeatingWeekly && len(r.WeekDays) == 0 {
		return RuleErrorInvalidRepeatingOption
	}
	if r.Mode == RepeatingMonthly && len(r.MonthDays) == 0 {
		return RuleErrorInvalidRepeatingOption
	}
	return RuleErrorNoError
}

// matchesDay reports whether a day qualifies as a repetition anchor.
func (r RepeatingOption) matchesDay(day time.Time) bool {
	switch r.Mode {
	case RepeatingWeekly:
		return containsInt(r.WeekDays, isoWeekday(day))
	case RepeatingMonthly:
		return containsInt(r.MonthDays, day.Day())
	default:
		return true
	}
}

// CalendarItem describes a recurring activity window. Exactly one of
// StartTime (with a repetition pattern) or StartDateTime (one-shot or
// yearly) is set.
type CalendarItem struct {
	StartTime     string          `json:"startTime,omitempty"` // "15:04"
	StartDateTime *time.Time      `json:"startDateTime,omitempty"`
	Duration      int             `json:"duration"` // minutes
	Repeating     RepeatingOption `json:"repeating,omitempty"`
}

func (c CalendarItem) validate() RuleError {
	if (c.StartTime == "") == (c.StartDateTime == nil) {
		return RuleErrorInvalidCalendarItem
	}
	if c.Duration < 1 {
		return RuleErrorInvalidCalendarItem
	}
	if rerr := c.Repeating.validate(); rerr != RuleErrorNoError {
		return rerr
	}
	if c.StartDateTime != nil {
		switch c.Repeating.Mode {
		case "", RepeatingNone, RepeatingYearly:
		default:
			return RuleErrorInvalidCalendarItem
		}
		return RuleErrorNoError
	}
	if _, _, err := parseTimeOfDay(c.StartTime); err != nil {
		return RuleErrorInvalidCalendarItem
	}
	if c.Repeating.Mode == RepeatingYearly {
		return RuleErrorInvalidCalendarItem
	}
	return RuleErrorNoError
}

// ActiveAt reports whether dt falls into one of the item's activity
// windows. Windows may cross midnight, month or year boundaries, so
// anchors reaching back as far as the duration are considered.
func (c CalendarItem) ActiveAt(dt time.Time) bool {
	dur := time.Duration(c.Duration) * time.Minute

	if c.StartDateTime != nil {
		start := *c.StartDateTime
		if c.Repeating.Mode != RepeatingYearly {
			return within(dt, start, dur)
		}
		// a yearly window can reach into the next year, so last year's
		// anchor counts too; Feb 29 anchors only exist in leap years
		for _, year := range []int{dt.Year() - 1, dt.Year()} {
			shifted := time.Date(year, start.Month(), start.Day(),
				start.Hour(), start.Minute(), 0, 0, dt.Location())
			if shifted.Month() != start.Month() || shifted.Day() != start.Day() {
				continue
			}
			if within(dt, shifted, dur) {
				return true
			}
		}
		return false
	}

	hour, minute, err := parseTimeOfDay(c.StartTime)
	if err != nil {
		return false
	}

	if c.Repeating.Mode == RepeatingHourly {
		anchor := time.Date(dt.Year(), dt.Month(), dt.Day(), dt.Hour(), minute, 0, 0, dt.Location())
		for i := 0; i <= c.Duration/60+1; i++ {
			if within(dt, anchor.Add(-time.Duration(i)*time.Hour), dur) {
				return true
			}
		}
		return false
	}

	maxBack := c.Duration/(24*60) + 1
	for i := 0; i <= maxBack; i++ {
		day := dt.AddDate(0, 0, -i)
		if !c.Repeating.matchesDay(day) {
			continue
		}
		anchor := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, dt.Location())
		if within(dt, anchor, dur) {
			return true
		}
	}
	return false
}

// TimeEventItem describes a point-in-time trigger. Exactly one of Time
// (time of day, with a repetition pattern) or DateTime is set.
type TimeEventItem struct {
	Time      string          `json:"time,omitempty"` // "15:04"
	DateTime  *time.Time      `json:"dateTime,omitempty"`
	Repeating RepeatingOption `json:"repeating,omitempty"`
}

func (t TimeEventItem) validate() RuleError {
	if (t.Time == "") == (t.DateTime == nil) {
		return RuleErrorInvalidTimeEventItem
	}
	if rerr := t.Repeating.validate(); rerr != RuleErrorNoError {
		return rerr
	}
	if t.DateTime != nil {
		switch t.Repeating.Mode {
		case "", RepeatingNone, RepeatingYearly:
		default:
			return RuleErrorInvalidTimeEventItem
		}
		return RuleErrorNoError
	}
	if _, _, err := parseTimeOfDay(t.Time); err != nil {
		return RuleErrorInvalidTimeEventItem
	}
	if t.Repeating.Mode == RepeatingYearly {
		return RuleErrorInvalidTimeEventItem
	}
	return RuleErrorNoError
}

// FiresAt reports whether the item's minute-aligned target equals dt's
// minute.
func (t TimeEventItem) FiresAt(dt time.Time) bool {
	if t.DateTime != nil {
		target := *t.DateTime
		if t.Repeating.Mode == RepeatingYearly {
			return target.Month() == dt.Month() && target.Day() == dt.Day() &&
				target.Hour() == dt.Hour() && target.Minute() == dt.Minute()
		}
		return target.Year() == dt.Year() && target.Month() == dt.Month() &&
			target.Day() == dt.Day() && target.Hour() == dt.Hour() &&
			target.Minute() == dt.Minute()
	}

	hour, minute, err := parseTimeOfDay(t.Time)
	if err != nil {
		return false
	}
	if t.Repeating.Mode == RepeatingHourly {
		return dt.Minute() == minute
	}
	if dt.Hour() != hour || dt.Minute() != minute {
		return false
	}
	switch t.Repeating.Mode {
	case RepeatingWeekly:
		return containsInt(t.Repeating.WeekDays, isoWeekday(dt))
	case RepeatingMonthly:
		return containsInt(t.Repeating.MonthDays, dt.Day())
	default:
		return true
	}
}

// TimeDescriptor couples the calendar gate and the time event triggers
// of one rule.
type TimeDescriptor struct {
	CalendarItems  []CalendarItem  `json:"calendarItems,omitempty"`
	TimeEventItems []TimeEventItem `json:"timeEventItems,omitempty"`
}

func (d TimeDescriptor) validate() RuleError {
	for _, item := range d.CalendarItems {
		if rerr := item.validate(); rerr != RuleErrorNoError {
			return rerr
		}
	}
	for _, item := range d.TimeEventItems {
		if rerr := item.validate(); rerr != RuleErrorNoError {
			return rerr
		}
	}
	return RuleErrorNoError
}

// ActiveAt reports the calendar gate: true when no calendar items are
// set, otherwise true iff any item is active.
func (d TimeDescriptor) ActiveAt(dt time.Time) bool {
	if len(d.CalendarItems) == 0 {
		return true
	}
	for _, item := range d.CalendarItems {
		if item.ActiveAt(dt) {
			return true
		}
	}
	return false
}

// FiresAt reports whether any time event item fires at dt.
func (d TimeDescriptor) FiresAt(dt time.Time) bool {
	for _, item := range d.TimeEventItems {
		if item.FiresAt(dt) {
			return true
		}
	}
	return false
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	t, perr := time.Parse("15:04", s)
	if perr != nil {
		return 0, 0, errors.Wrapf(perr, "invalid time of day %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func within(dt, start time.Time, dur time.Duration) bool {
	return !dt.Before(start) && dt.Before(start.Add(dur))
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
