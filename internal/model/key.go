package model

import "time"

// KeyStatus is the logical presence of a key in its machine.
type KeyStatus string

const (
	KeyStatusPresent KeyStatus = "present"
	KeyStatusRemoved KeyStatus = "removed"
)

// Key binds a physical key tag to a room. Its Status can transiently
// disagree with the slot occupancy recorded in KeySlot.
type Key struct {
	ID        int64     `gorm:"primaryKey"`
	UID       string    `gorm:"size:64;index"`
	RoomNo    string    `gorm:"size:32;not null"`
	MachineID string    `gorm:"size:16;index"`
	OwnerID   string    `gorm:"size:64;index"`
	Status    KeyStatus `gorm:"size:16;not null;default:'present'"`
	RemovedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeySlot records which tag currently occupies a vending slot.
type KeySlot struct {
	ID         int64   `gorm:"primaryKey"`
	MachineID  string  `gorm:"size:16;not null;uniqueIndex:idx_key_slots_machine_slot"`
	SlotNumber int     `gorm:"not null;uniqueIndex:idx_key_slots_machine_slot"`
	UID        *string `gorm:"size:64;index"`
	RemovedAt  *time.Time
	ScannedAt  *time.Time
	UpdatedAt  time.Time
}
