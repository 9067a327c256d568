package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog captures auditable back-office events such as fee generation or payment registration.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    uint              `gorm:"not null" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null;index" json:"action"`
	EntityType string            `gorm:"size:64;not null;index" json:"entity_type"`
	EntityID   *uint             `json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Class{},
		&Guardian{},
		&Student{},
		&GuardianLink{},
		&StatementRow{},
		&Fee{},
		&Charge{},
		&Payment{},
		&PaymentAllocation{},
		&ActivityLog{},
	}
}
