package control

import (
	"context"
	"log"
	"time"

	"portenta-bridge/internal/registry"
	"portenta-bridge/internal/rpc"
)

// Syncer is the part of the core the resync loop talks to.
type Syncer interface {
	SyncCompleted(ctx context.Context) (bool, error)
	PushTruthTable(ctx context.Context, t rpc.TruthTable) error
}

// SyncLoop re-pushes the truth table until the core reports that its
// state is restored, e.g. after a core reset.
type SyncLoop struct {
	store    *registry.Store
	core     Syncer
	interval time.Duration
	synced   bool
}

func NewSyncLoop(store *registry.Store, core Syncer, interval time.Duration) *SyncLoop {
	if interval <= 0 {
		interval = time.Second
	}
	return &SyncLoop{store: store, core: core, interval: interval}
}

// Start запускает проверку синхронизации с ядром.
func (s *SyncLoop) Start(ctx context.Context) error {
	log.Printf("[sync] started, checking every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs one round and reports whether the truth table was pushed.
func (s *SyncLoop) Check(ctx context.Context) bool {
	done, err := s.core.SyncCompleted(ctx)
	if err != nil {
		log.Printf("[sync] sync status unknown: %v", err)
		return false
	}
	if done {
		if !s.synced {
			log.Printf("[sync] core confirms sync is complete")
		}
		s.synced = true
		return false
	}
	if s.synced {
		log.Printf("[sync] core lost sync, pushing truth table")
	}
	s.synced = false
	if err := s.core.PushTruthTable(ctx, TruthTable(s.store)); err != nil {
		log.Printf("[sync] push truth table: %v", err)
		return false
	}
	return true
}

// TruthTable reads the reduced state the core needs after a reset.
func TruthTable(store *registry.Store) rpc.TruthTable {
	v := store.Values(registry.VoltSet, registry.CurrSet, registry.ExtEnable,
		registry.WarnLamp, registry.ChargerRelay, registry.DumpRelay, registry.DumpFan)
	return rpc.TruthTable{
		VoltSet:      v[registry.VoltSet],
		CurrSet:      v[registry.CurrSet],
		ExtEnable:    v[registry.ExtEnable] != 0,
		WarnLamp:     v[registry.WarnLamp] != 0,
		ChargerRelay: v[registry.ChargerRelay] != 0,
		DumpRelay:    v[registry.DumpRelay] != 0,
		DumpFan:      v[registry.DumpFan] != 0,
	}
}
