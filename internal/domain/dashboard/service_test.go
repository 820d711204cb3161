package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

type mockRepo struct {
	from, to  time.Time
	doctorArg *uuid.UUID
	counts    map[string]int
	paid      int64
	queues    []DoctorQueue
	waiting   []QueueEntry
	upcoming  []UpcomingVisit
	limit     int
	fail      error
}

func (m *mockRepo) StatusCounts(_ context.Context, from, to time.Time, doctorID *uuid.UUID) (map[string]int, error) {
	m.from, m.to, m.doctorArg = from, to, doctorID
	return m.counts, m.fail
}

func (m *mockRepo) CollectedPayments(context.Context, time.Time, time.Time) (int64, error) {
	return m.paid, nil
}

func (m *mockRepo) DoctorQueues(context.Context, time.Time, time.Time) ([]DoctorQueue, error) {
	return m.queues, nil
}

func (m *mockRepo) Waiting(context.Context, uuid.UUID, time.Time, time.Time) ([]QueueEntry, error) {
	return m.waiting, nil
}

func (m *mockRepo) OpenDrafts(context.Context, uuid.UUID) ([]OpenDraft, error) {
	return nil, nil
}

func (m *mockRepo) Upcoming(_ context.Context, _ uuid.UUID, _ time.Time, limit int) ([]UpcomingVisit, error) {
	m.limit = limit
	return m.upcoming, nil
}

func (m *mockRepo) Recent(context.Context, uuid.UUID, int) ([]RecentVisit, error) {
	return nil, nil
}

func hospitalCtx() context.Context {
	return db.WithHospital(context.Background(), &db.Hospital{Code: "sunrise", Timezone: "Asia/Kolkata", Active: true})
}

func newTestService(repo *mockRepo) *Service {
	svc := NewService(repo)
	// 2026-03-02 01:00 IST
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC) }
	return svc
}

func TestCoordinator_TodayInHospitalZone(t *testing.T) {
	repo := &mockRepo{counts: map[string]int{"booked": 4, "checked_in": 2, "completed": 1}, paid: 150000}
	v, err := newTestService(repo).Coordinator(hospitalCtx(), "")
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	if v.Date != "2026-03-02" {
		t.Errorf("expected hospital-local date 2026-03-02, got %s", v.Date)
	}
	if v.Total != 7 || v.CollectedPayments != 150000 {
		t.Errorf("unexpected totals %+v", v)
	}
	if v.Queues == nil {
		t.Error("queues should be an empty list, not null")
	}
	loc, _ := time.LoadLocation("Asia/Kolkata")
	if !repo.from.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, loc)) || repo.to.Sub(repo.from) != 24*time.Hour {
		t.Errorf("unexpected range %s - %s", repo.from, repo.to)
	}
	if repo.doctorArg != nil {
		t.Error("coordinator counts must not filter by doctor")
	}
}

func TestCoordinator_BadDate(t *testing.T) {
	_, err := newTestService(&mockRepo{}).Coordinator(hospitalCtx(), "02/03/2026")
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestDoctor(t *testing.T) {
	token := 3
	repo := &mockRepo{
		counts:  map[string]int{"triaged": 1},
		waiting: []QueueEntry{{AppointmentID: uuid.New(), TokenNumber: &token, Status: "triaged"}},
	}
	doctorID := uuid.New()
	v, err := newTestService(repo).Doctor(hospitalCtx(), doctorID, "2026-03-05")
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if repo.doctorArg == nil || *repo.doctorArg != doctorID {
		t.Error("counts should be scoped to the doctor")
	}
	if v.Date != "2026-03-05" || len(v.Waiting) != 1 || v.OpenDrafts == nil {
		t.Errorf("unexpected view %+v", v)
	}
}

func TestDoctor_RepoError(t *testing.T) {
	boom := errors.New("db down")
	if _, err := newTestService(&mockRepo{fail: boom}).Doctor(hospitalCtx(), uuid.New(), ""); !errors.Is(err, boom) {
		t.Errorf("expected repo error, got %v", err)
	}
}

func TestPatient_Limits(t *testing.T) {
	repo := &mockRepo{}
	v, err := newTestService(repo).Patient(hospitalCtx(), uuid.New())
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if repo.limit != PatientListSize {
		t.Errorf("expected limit %d, got %d", PatientListSize, repo.limit)
	}
	if v.Upcoming == nil || v.Recent == nil {
		t.Error("lists should be empty, not null")
	}
}
