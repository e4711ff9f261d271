package domain

import (
	"time"
)

// Tenant is a directory entry for an organization that owns programs.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Program is a loyalty program a tenant runs. Rules always belong to
// exactly one program.
type Program struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenantId"`
	Name     string `json:"name"`
	Status   string `json:"status"`

	// MaxActiveRules caps concurrently active rules. Zero means no cap.
	MaxActiveRules int `json:"maxActiveRules,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Program and tenant directory statuses.
const (
	DirectoryStatusActive   = "active"
	DirectoryStatusArchived = "archived"
)
