package model

import "time"

// Client is the guest a pickup link was issued to.
type Client struct {
	ID        int64  `gorm:"primaryKey"`
	FirstName string `gorm:"size:128"`
	LastName  string `gorm:"size:128;not null"`
	Email     string `gorm:"size:256"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName joins first and last name.
func (c Client) FullName() string {
	if c.FirstName == "" {
		return c.LastName
	}
	return c.FirstName + " " + c.LastName
}

// PickupSession is the single-use credential behind a pickup link. It is
// consumed (Valid=false, PulledAt set) once and never deleted.
type PickupSession struct {
	Token     string `gorm:"primaryKey;size:64"`
	ClientID  int64  `gorm:"index;not null"`
	KeyID     int64  `gorm:"index"`
	MachineID string `gorm:"size:16;not null"`
	RoomNo    string `gorm:"size:32;not null"`
	KeyUID    string `gorm:"size:64"`
	CheckIn   time.Time
	CheckOut  time.Time
	Valid     bool `gorm:"not null"`
	PulledAt  *time.Time
	CreatedAt time.Time

	// Associations
	Client Client `gorm:"foreignKey:ClientID"`
	Key    Key    `gorm:"foreignKey:KeyID"`
}
