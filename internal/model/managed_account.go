package model

import (
	"time"
)

// ManagedAccount is a social-media handle whose metrics and models belong
// to exactly one company. Created by data ingestion; read by every
// authorization check.
type ManagedAccount struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Handle    string    `json:"handle" gorm:"type:varchar(100);uniqueIndex;not null"`
	CompanyID uint      `json:"company_id" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}
