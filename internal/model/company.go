package model

import (
	"time"
)

// Company is the unit of data isolation: every managed account and every
// caller belongs to exactly one company. Immutable after creation.
type Company struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
}
