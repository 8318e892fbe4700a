package models

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Env is the request environment shared by all handlers.
type Env struct {
	// DB is the database connection.
	DB *gorm.DB
	// Logger is the structured logger for the current request.
	Logger *zap.Logger
}

func (e *Env) Log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
