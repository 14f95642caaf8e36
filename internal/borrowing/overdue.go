package borrowing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"neighborly/internal/notify"
)

const overduePageSize = 200

// OverdueReporter periodically looks for Active loans past their end date and
// tells both parties. It only reads; stored status stays Active.
type OverdueReporter struct {
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	// requests already reported, pruned to the current overdue set on each scan
	reported map[uuid.UUID]struct{}
}

func NewOverdueReporter(repo Repository, notifier Notifier, logger *slog.Logger, interval time.Duration) *OverdueReporter {
	return &OverdueReporter{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		reported: make(map[uuid.UUID]struct{}),
	}
}

// Run scans once immediately and then on every tick until ctx is done.
func (o *OverdueReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		if n, err := o.Scan(ctx); err != nil {
			o.logger.Error("overdue scan failed", "error", err)
		} else if n > 0 {
			o.logger.Info("overdue loans reported", "count", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan reports loans that became overdue since the last scan and returns how
// many were reported.
func (o *OverdueReporter) Scan(ctx context.Context) (int, error) {
	now := o.now()
	current := make(map[uuid.UUID]struct{})
	reported := 0

	for offset := 0; ; offset += overduePageSize {
		page, err := o.repo.List(ctx, ListFilter{OverdueAsOf: now, Limit: overduePageSize, Offset: offset})
		if err != nil {
			return reported, fmt.Errorf("list overdue requests: %w", err)
		}
		for i := range page {
			req := &page[i]
			current[req.ID] = struct{}{}
			if _, seen := o.reported[req.ID]; seen {
				continue
			}
			msg := fmt.Sprintf("loan ended on %s", req.RequestedEndDate.Format(time.DateOnly))
			for _, recipient := range []uuid.UUID{req.LenderID, req.BorrowerID} {
				o.notifier.Notify(notify.Event{
					Type:        notify.TypeBorrowOverdue,
					RecipientID: recipient,
					RequestID:   req.ID,
					ItemID:      req.ItemID,
					Message:     msg,
					OccurredAt:  now,
				})
			}
			o.reported[req.ID] = struct{}{}
			reported++
		}
		if len(page) < overduePageSize {
			break
		}
	}

	o.reported = current
	return reported, nil
}
