package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
)

// UnreadRepairService periodically recomputes unread counters from the
// message log. The log is the source of truth; counters only drift when
// an increment is lost between an append and a crash.
type UnreadRepairService struct {
	store    registrystore.ChatStore
	interval time.Duration
}

func NewUnreadRepairService(store registrystore.ChatStore, interval time.Duration) *UnreadRepairService {
	return &UnreadRepairService{store: store, interval: interval}
}

// Start runs the repair loop until ctx is done. A zero or negative
// interval disables the sweep.
func (s *UnreadRepairService) Start(ctx context.Context) {
	if s == nil || s.store == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.repairOnce(ctx)
		}
	}
}

func (s *UnreadRepairService) repairOnce(ctx context.Context) {
	repaired, err := s.store.RepairUnreadCounts(ctx)
	if err != nil {
		log.Error("Unread counter repair failed", "err", err)
		return
	}
	if repaired > 0 {
		log.Info("Repaired drifted unread counters", "count", repaired)
	}
}
