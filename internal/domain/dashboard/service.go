package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

type Service struct {
	repo  Repository
	group singleflight.Group
	now   func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// day resolves date (YYYY-MM-DD, empty for today) in the hospital timezone.
func (s *Service) day(ctx context.Context, date string) (string, time.Time, time.Time, error) {
	loc := db.HospitalFromContext(ctx).Location()
	var day time.Time
	if date == "" {
		day = s.now().In(loc)
	} else {
		d, err := time.ParseInLocation(time.DateOnly, date, loc)
		if err != nil {
			return "", time.Time{}, time.Time{}, apperr.Invalid("date must be YYYY-MM-DD")
		}
		day = d
	}
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return from.Format(time.DateOnly), from, from.AddDate(0, 0, 1), nil
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// Coordinator builds the front-desk view. Concurrent requests for the same
// hospital and day share one set of queries.
func (s *Service) Coordinator(ctx context.Context, date string) (*CoordinatorView, error) {
	day, from, to, err := s.day(ctx, date)
	if err != nil {
		return nil, err
	}
	key := db.HospitalCodeFromContext(ctx) + ":" + day
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		counts, err := s.repo.StatusCounts(ctx, from, to, nil)
		if err != nil {
			return nil, err
		}
		paid, err := s.repo.CollectedPayments(ctx, from, to)
		if err != nil {
			return nil, err
		}
		queues, err := s.repo.DoctorQueues(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if queues == nil {
			queues = []DoctorQueue{}
		}
		return &CoordinatorView{
			Date:              day,
			Counts:            counts,
			Total:             total(counts),
			CollectedPayments: paid,
			Queues:            queues,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CoordinatorView), nil
}

func (s *Service) Doctor(ctx context.Context, doctorID uuid.UUID, date string) (*DoctorView, error) {
	day, from, to, err := s.day(ctx, date)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.StatusCounts(ctx, from, to, &doctorID)
	if err != nil {
		return nil, err
	}
	waiting, err := s.repo.Waiting(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	drafts, err := s.repo.OpenDrafts(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if waiting == nil {
		waiting = []QueueEntry{}
	}
	if drafts == nil {
		drafts = []OpenDraft{}
	}
	return &DoctorView{Date: day, Counts: counts, Total: total(counts), Waiting: waiting, OpenDrafts: drafts}, nil
}

func (s *Service) Patient(ctx context.Context, patientID uuid.UUID) (*PatientView, error) {
	upcoming, err := s.repo.Upcoming(ctx, patientID, s.now(), PatientListSize)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.Recent(ctx, patientID, PatientListSize)
	if err != nil {
		return nil, err
	}
	if upcoming == nil {
		upcoming = []UpcomingVisit{}
	}
	if recent == nil {
		recent = []RecentVisit{}
	}
	return &PatientView{Upcoming: upcoming, Recent: recent}, nil
}
