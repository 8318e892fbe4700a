package models

// AllTables returns the models gorm should migrate, in dependency order.
func AllTables() []any {
	return []any{
		&Identity{},
		&Item{},
		&Follower{},
	}
}
