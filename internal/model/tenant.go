package model

import "time"

// Tenant is the owner scope for stored objects. All quota and visibility
// rules are evaluated per tenant. StorageUsed is mutated only inside the
// persistence layer's upload/delete transactions.
type Tenant struct {
	ID          string    `json:"id"`
	Tier        int       `json:"tier"`
	StorageUsed int64     `json:"storage_used"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
