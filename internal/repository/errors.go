package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrStaleRecord is returned when a versioned row changed since it was read.
	ErrStaleRecord = errors.New("record was modified concurrently")
	// ErrConditionFailed is returned when a guarded update matched no row because the
	// stored state no longer satisfies its precondition.
	ErrConditionFailed = errors.New("stored state does not satisfy update condition")
)

func paginate(query *gorm.DB, page, pageSize int) *gorm.DB {
	if pageSize <= 0 {
		return query
	}
	if page <= 0 {
		page = 1
	}
	return query.Offset((page - 1) * pageSize).Limit(pageSize)
}
