package models

import (
	"math"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// MaxPageLimit caps a caller supplied limit.
const MaxPageLimit = 1000

// Page is an optional limit/offset window. A zero Limit returns every row.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePage reads limit/offset query values. Missing, malformed or negative
// values are ignored so the full list is returned.
func ParsePage(limit string, offset string) Page {
	var p Page
	if n, err := strconv.Atoi(strings.TrimSpace(limit)); err == nil && n > 0 {
		p.Limit = n
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if n, err := strconv.Atoi(strings.TrimSpace(offset)); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

func (p Page) IsZero() bool {
	return p.Limit == 0 && p.Offset == 0
}

func (p Page) apply(db *gorm.DB) *gorm.DB {
	if p.Limit > 0 {
		db = db.Limit(p.Limit)
	}
	if p.Offset > 0 {
		if p.Limit == 0 {
			// MySQL needs a LIMIT before OFFSET
			db = db.Limit(math.MaxInt32)
		}
		db = db.Offset(p.Offset)
	}
	return db
}
