package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	GetPickupSession(ctx context.Context, token string) (*model.PickupSession, error)
	CreatePickupSession(ctx context.Context, session *model.PickupSession) error
	ConsumePickupSession(ctx context.Context, token string, at time.Time) (int64, error)

	GetClient(ctx context.Context, id int64) (*model.Client, error)
	GetKey(ctx context.Context, id int64) (*model.Key, error)
	MarkKeyRemoved(ctx context.Context, uid string, at time.Time) (int64, error)
	MarkRoomKeyRemoved(ctx context.Context, machineID, roomNo string, at time.Time) (int64, error)

	ClearSlot(ctx context.Context, match SlotMatch, machineID, uid string, at time.Time) (int64, error)
	FindSlotByUID(ctx context.Context, machineID, uid string) (*model.KeySlot, error)
	RecordSlotScan(ctx context.Context, machineID string, slot int, uid *string, at time.Time) error

	GetMachine(ctx context.Context, id string) (*model.Machine, error)
	ListMachines(ctx context.Context) ([]MachineSlots, error)

	SubscriptionsForOwner(ctx context.Context, ownerID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

// GetPickupSession loads a session with its client and key.
func (s *gormStore) GetPickupSession(ctx context.Context, token string) (*model.PickupSession, error) {
	var session model.PickupSession
	err := s.db.WithContext(ctx).
		Preload("Client").
		Preload("Key").
		Where("token = ?", token).
		First(&session).Error
	if err != nil {
		return nil, notFound(err, "pickup session")
	}
	return &session, nil
}

func (s *gormStore) CreatePickupSession(ctx context.Context, session *model.PickupSession) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create pickup session: %w", err)
	}
	return nil
}

// ConsumePickupSession marks the link used. Repeating it only rewrites the same values.
func (s *gormStore) ConsumePickupSession(ctx context.Context, token string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.PickupSession{}).
		Where("token = ?", token).
		Updates(map[string]any{"valid": false, "pulled_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to consume pickup session: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	var client model.Client
	if err := s.db.WithContext(ctx).First(&client, id).Error; err != nil {
		return nil, notFound(err, "client")
	}
	return &client, nil
}

func (s *gormStore) GetKey(ctx context.Context, id int64) (*model.Key, error) {
	var key model.Key
	if err := s.db.WithContext(ctx).First(&key, id).Error; err != nil {
		return nil, notFound(err, "key")
	}
	return &key, nil
}

func (s *gormStore) MarkKeyRemoved(ctx context.Context, uid string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Key{}).
		Where("uid = ?", uid).
		Updates(map[string]any{"status": model.KeyStatusRemoved, "removed_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark key %s removed: %w", uid, res.Error)
	}
	return res.RowsAffected, nil
}

// MarkRoomKeyRemoved is the fallback when the session's UID matches no key.
func (s *gormStore) MarkRoomKeyRemoved(ctx context.Context, machineID, roomNo string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Key{}).
		Where("machine_id = ? AND room_no = ? AND status = ?", machineID, roomNo, model.KeyStatusPresent).
		Updates(map[string]any{"status": model.KeyStatusRemoved, "removed_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark key of room %s removed: %w", roomNo, res.Error)
	}
	return res.RowsAffected, nil
}

// ClearSlot empties the slot rows selected by match and returns how many changed.
func (s *gormStore) ClearSlot(ctx context.Context, match SlotMatch, machineID, uid string, at time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&model.KeySlot{})

	switch match {
	case MatchScoped:
		q = q.Where("machine_id = ? AND uid = ? AND removed_at IS NULL", machineID, uid)
	case MatchUnscoped:
		q = q.Where("uid = ? AND removed_at IS NULL", uid)
	case MatchUnguarded:
		q = q.Where("uid = ?", uid)
	case MatchCaseFolded:
		q = q.Where("uid IN ?", []string{strings.ToUpper(uid), strings.ToLower(uid)})
	default:
		return 0, fmt.Errorf("unknown slot match %q", match)
	}

	res := q.Updates(map[string]any{"uid": nil, "removed_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear slot (%s) for uid %s: %w", match, uid, res.Error)
	}
	return res.RowsAffected, nil
}

// FindSlotByUID locates the slot holding uid on machineID. An exact match wins;
// otherwise the UID is compared case-insensitively, as firmware and manual
// entry disagree on casing.
func (s *gormStore) FindSlotByUID(ctx context.Context, machineID, uid string) (*model.KeySlot, error) {
	var slot model.KeySlot
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND uid = ?", machineID, uid).
		First(&slot).Error
	if err == nil {
		return &slot, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(err, "key slot")
	}

	err = s.db.WithContext(ctx).
		Where("machine_id = ? AND LOWER(uid) = ?", machineID, strings.ToLower(uid)).
		Order("slot_number").
		First(&slot).Error
	if err != nil {
		return nil, notFound(err, "key slot")
	}
	return &slot, nil
}

// RecordSlotScan stores what a slot reported during inventory. A UID seen in
// one slot is released from any other slot of the same machine.
func (s *gormStore) RecordSlotScan(ctx context.Context, machineID string, slot int, uid *string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if uid != nil {
			if err := tx.Model(&model.KeySlot{}).
				Where("machine_id = ? AND uid = ? AND slot_number <> ?", machineID, *uid, slot).
				Updates(map[string]any{"uid": nil, "removed_at": at}).Error; err != nil {
				return fmt.Errorf("failed to release uid %s on machine %s: %w", *uid, machineID, err)
			}
		}

		row := model.KeySlot{
			MachineID:  machineID,
			SlotNumber: slot,
			UID:        uid,
			ScannedAt:  &at,
		}
		if uid == nil {
			row.RemovedAt = &at
		}

		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "machine_id"}, {Name: "slot_number"}},
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "uid"}, Value: gorm.Expr("excluded.uid")},
				{Column: clause.Column{Name: "scanned_at"}, Value: gorm.Expr("excluded.scanned_at")},
				{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
				{Column: clause.Column{Name: "removed_at"}, Value: gorm.Expr(
					"CASE WHEN excluded.uid IS NULL THEN COALESCE(key_slots.removed_at, excluded.removed_at) ELSE NULL END")},
			},
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to record scan of slot %d on machine %s: %w", slot, machineID, err)
		}
		return nil
	})
}

func (s *gormStore) GetMachine(ctx context.Context, id string) (*model.Machine, error) {
	var machine model.Machine
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&machine).Error; err != nil {
		return nil, notFound(err, "machine")
	}
	return &machine, nil
}

// ListMachines returns every machine with its slots ordered by number.
func (s *gormStore) ListMachines(ctx context.Context) ([]MachineSlots, error) {
	var machines []model.Machine
	err := s.db.WithContext(ctx).
		Preload("KeySlots", func(db *gorm.DB) *gorm.DB { return db.Order("slot_number ASC") }).
		Order("id ASC").
		Find(&machines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}

	out := make([]MachineSlots, 0, len(machines))
	for _, m := range machines {
		view := MachineSlots{ID: m.ID, DisplayName: m.DisplayName, BaseURL: m.BaseURL, Capacity: m.Slots, Slots: make([]SlotView, 0, len(m.KeySlots))}
		for _, ks := range m.KeySlots {
			view.Slots = append(view.Slots, SlotView{Number: ks.SlotNumber, UID: ks.UID})
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *gormStore) SubscriptionsForOwner(ctx context.Context, ownerID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for owner %s: %w", ownerID, err)
	}
	return subs, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", endpoint, err)
	}
	return nil
}
