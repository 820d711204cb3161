package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository runs the read-only aggregate queries behind the dashboards.
// Day ranges are half-open: [from, to).
type Repository interface {
	StatusCounts(ctx context.Context, from, to time.Time, doctorID *uuid.UUID) (map[string]int, error)
	CollectedPayments(ctx context.Context, from, to time.Time) (int64, error)
	DoctorQueues(ctx context.Context, from, to time.Time) ([]DoctorQueue, error)
	Waiting(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]QueueEntry, error)
	OpenDrafts(ctx context.Context, doctorID uuid.UUID) ([]OpenDraft, error)
	Upcoming(ctx context.Context, patientID uuid.UUID, now time.Time, limit int) ([]UpcomingVisit, error)
	Recent(ctx context.Context, patientID uuid.UUID, limit int) ([]RecentVisit, error)
}
