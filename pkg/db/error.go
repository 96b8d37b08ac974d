package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Driver-specific unique violation markers. Postgres 23505, MySQL 1062,
// SQLite 2067 all surface as text because gorm flattens driver errors.
var duplicateKeyMarkers = []string{
	"duplicate key value violates unique constraint",
	"Error 1062",
	"UNIQUE constraint failed",
}

// IsDuplicateKeyErr reports whether the error is a unique constraint
// violation on any of the supported drivers.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	for _, marker := range duplicateKeyMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
