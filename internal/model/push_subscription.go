package model

import "time"

// PushSubscription holds the information for an owner's browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"size:64;index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
