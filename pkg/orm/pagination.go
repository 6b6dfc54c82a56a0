package orm

import "gorm.io/gorm"

const MaxPageLimit = 500

// ApplyOffset 按 limit/offset 分页，limit 超过上限会被截断
// limit <= 0 时不分页
func ApplyOffset(db *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		return db
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return db.Offset(offset).Limit(limit)
}
