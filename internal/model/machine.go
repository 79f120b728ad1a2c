package model

import "time"

// Machine is a key vending machine addressed by its logical id (e.g. "A12").
type Machine struct {
	ID          string `gorm:"primaryKey;size:16"`
	DisplayName string `gorm:"size:256;not null"`
	BaseURL     string `gorm:"size:512"`
	Slots       int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Associations
	KeySlots []KeySlot `gorm:"foreignKey:MachineID"`
}
