// Package scanner keeps the key slot inventory in sync with what the
// machines report, slot by slot.
package scanner

import (
	"context"
	"log"
	"sort"
	"time"

	"keymatic-backend/config"
	"keymatic-backend/internal/parse"
	"keymatic-backend/internal/store"
)

// SlotReader asks a machine which tag occupies a slot.
type SlotReader interface {
	ReadSlot(ctx context.Context, machineID string, slot int) (parse.SlotUID, error)
}

// Inventory is the persistence the scanner reads and writes.
type Inventory interface {
	ListMachines(ctx context.Context) ([]store.MachineSlots, error)
	RecordSlotScan(ctx context.Context, machineID string, slot int, uid *string, at time.Time) error
}

// Target is a machine to scan.
type Target struct {
	MachineID string
	Slots     int
}

// Report summarizes one machine scan.
type Report struct {
	MachineID string         `json:"machine"`
	Scanned   int            `json:"scanned"`
	Occupied  map[int]string `json:"occupied"`
	Failed    map[int]string `json:"failed,omitempty"`
}

// Service scans machines periodically.
type Service struct {
	cfg       config.ScannerConfig
	reader    SlotReader
	inventory Inventory
	static    []string
	now       func() time.Time
}

// NewService creates a scanner. static lists machines known only from
// configuration; they are scanned with the configured slot count.
func NewService(cfg config.ScannerConfig, reader SlotReader, inventory Inventory, static []string) *Service {
	return &Service{
		cfg:       cfg,
		reader:    reader,
		inventory: inventory,
		static:    static,
		now:       time.Now,
	}
}

// Run starts the scanning loop.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Slot scanner is disabled. Not starting.")
		return
	}
	log.Println("Starting slot scanner...")

	s.ScanOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Slot scanner shutting down.")
			return
		case <-timer.C:
			s.ScanOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// ScanOnce scans every known machine. A machine that fails does not stop the cycle.
func (s *Service) ScanOnce(ctx context.Context) []Report {
	log.Println("Executing slot scan cycle...")

	targets, err := s.Targets(ctx)
	if err != nil {
		log.Printf("Slot scan cycle aborted: %v", err)
		return nil
	}

	reports := make([]Report, 0, len(targets))
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, s.ScanMachine(ctx, target))
	}

	log.Printf("Slot scan cycle finished: %d machines.", len(reports))
	return reports
}

// Targets merges machines from the database with the configured ones.
func (s *Service) Targets(ctx context.Context) ([]Target, error) {
	machines, err := s.inventory.ListMachines(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(machines))
	targets := make([]Target, 0, len(machines)+len(s.static))
	for _, m := range machines {
		seen[m.ID] = true
		targets = append(targets, Target{MachineID: m.ID, Slots: s.slotCount(m.Capacity)})
	}
	for _, id := range s.static {
		if !seen[id] {
			seen[id] = true
			targets = append(targets, Target{MachineID: id, Slots: s.slotCount(0)})
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].MachineID < targets[j].MachineID })
	return targets, nil
}

// ScanMachine reads slots 1..target.Slots and records each answer. Slots
// whose reply cannot be read are left untouched.
func (s *Service) ScanMachine(ctx context.Context, target Target) Report {
	report := Report{MachineID: target.MachineID, Occupied: map[int]string{}}

	for slot := 1; slot <= target.Slots; slot++ {
		res, err := s.reader.ReadSlot(ctx, target.MachineID, slot)
		if err != nil {
			log.Printf("Scan of %s slot %d failed: %v", target.MachineID, slot, err)
			if report.Failed == nil {
				report.Failed = map[int]string{}
			}
			report.Failed[slot] = err.Error()
			continue
		}

		if err := s.inventory.RecordSlotScan(ctx, target.MachineID, slot, res.UID, s.now().UTC()); err != nil {
			log.Printf("Recording %s slot %d failed: %v", target.MachineID, slot, err)
			if report.Failed == nil {
				report.Failed = map[int]string{}
			}
			report.Failed[slot] = err.Error()
			continue
		}

		report.Scanned++
		if res.UID != nil {
			report.Occupied[slot] = *res.UID
		}
	}
	return report
}

func (s *Service) slotCount(capacity int) int {
	if capacity > 0 {
		return capacity
	}
	return s.cfg.SlotsPerMachine
}
