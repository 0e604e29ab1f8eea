package orm

import "gorm.io/gorm"

// ApplyPagination adds OFFSET/LIMIT for a 1-based page. page <= 0 or
// limit <= 0 leaves the query untouched.
func ApplyPagination(db *gorm.DB, page, limit int) *gorm.DB {
	if page > 0 && limit > 0 {
		offset := (page - 1) * limit
		return db.Offset(offset).Limit(limit)
	}
	return db
}
