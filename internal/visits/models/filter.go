package models

import (
	"math"
	"strings"
	"time"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Filter selects visits for listing and export. From is inclusive and Until
// exclusive, both UTC instants already derived from facility-local days.
type Filter struct {
	GivenName  string
	FamilyName string
	DocumentID string
	From       *time.Time
	Until      *time.Time

	Page     int
	PageSize int
}

// Normalize trims text filters and clamps paging into range.
func (f *Filter) Normalize() {
	f.GivenName = strings.TrimSpace(f.GivenName)
	f.FamilyName = strings.TrimSpace(f.FamilyName)
	f.DocumentID = strings.TrimSpace(f.DocumentID)
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	switch {
	case f.PageSize == 0:
		f.PageSize = DefaultPageSize
	case f.PageSize < 1:
		f.PageSize = 1
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}
}

// Offset is the number of rows to skip for the current page. Pages too far
// out to address saturate at math.MaxInt, which yields an empty page.
func (f Filter) Offset() int {
	if f.Page <= 1 || f.PageSize <= 0 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.PageSize {
		return math.MaxInt
	}
	return (f.Page - 1) * f.PageSize
}

// Matches applies the filter to a single visit, for stores that scan.
func (f Filter) Matches(v *Visit) bool {
	if f.GivenName != "" && !containsFold(v.GivenName, f.GivenName) {
		return false
	}
	if f.FamilyName != "" && !containsFold(v.FamilyName, f.FamilyName) {
		return false
	}
	if f.DocumentID != "" && v.DocumentID != f.DocumentID {
		return false
	}
	if f.From != nil && v.CheckInAtUTC.Before(*f.From) {
		return false
	}
	if f.Until != nil && !v.CheckInAtUTC.Before(*f.Until) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// Page is one page of visits plus the total across all pages.
type Page struct {
	Items    []*Visit
	Total    int
	Page     int
	PageSize int
}
