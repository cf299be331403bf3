package model

import (
	"time"
)

// Caller roles. Admin carries the cross-tenant override; viewer is
// read-only, the mutating routes reject it.
const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleViewer = "viewer"
)

// Caller represents an API identity stored in the database. An inactive
// caller fails authentication regardless of credential validity.
type Caller struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Identity  string    `json:"identity" gorm:"type:varchar(100);uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"type:varchar(255)"`
	CompanyID uint      `json:"company_id" gorm:"index;not null"`
	Role      string    `json:"role" gorm:"type:varchar(20);default:user"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCrossTenantAccess reports whether the caller's role bypasses the
// company ownership check.
func (c *Caller) HasCrossTenantAccess() bool {
	return c.Role == RoleAdmin
}
