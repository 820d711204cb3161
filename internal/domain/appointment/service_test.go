package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/events"
)

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
	// calls records the day-rule steps in order.
	calls []string

	dayLocks sync.Map // lock key -> *sync.Mutex
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockRepo) slotHeld(a *Appointment) bool {
	for _, o := range m.items {
		if o.ID != a.ID && o.DoctorID == a.DoctorID && o.StartTime.Equal(a.StartTime) && IsActive(o.Status) {
			return true
		}
	}
	return false
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.record("create")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slotHeld(a) {
		return ErrSlotTaken
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if IsActive(a.Status) && m.slotHeld(a) {
		return ErrSlotTaken
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if !f.From.IsZero() && a.StartTime.Before(f.From) || !f.To.IsZero() && !a.StartTime.Before(f.To) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, len(out), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, upcoming bool, now time.Time, _, _ int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		isUpcoming := !a.StartTime.Before(now) && IsActive(a.Status)
		if a.PatientID == patientID && isUpcoming == upcoming {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

// LockPatientDay holds a per-key mutex until the txLocks in ctx are released,
// like a transaction-scoped advisory lock.
func (m *mockRepo) LockPatientDay(ctx context.Context, patientID, doctorID uuid.UUID, day time.Time) error {
	key := "book:" + patientID.String() + ":" + doctorID.String() + ":" + day.Format(time.DateOnly)
	m.record("lock " + day.Format(time.DateOnly))
	mu, _ := m.dayLocks.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	if held, ok := ctx.Value(txLocksKey{}).(*txLocks); ok {
		held.add(mu.(*sync.Mutex).Unlock)
	} else {
		mu.(*sync.Mutex).Unlock()
	}
	return nil
}

func (m *mockRepo) HasActiveOnDay(_ context.Context, patientID, doctorID uuid.UUID, from, to time.Time, exclude uuid.UUID) (bool, error) {
	m.record("check")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.ID != exclude && a.PatientID == patientID && a.DoctorID == doctorID && IsActive(a.Status) &&
			!a.StartTime.Before(from) && a.StartTime.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) BookedStarts(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, a := range m.items {
		if a.DoctorID == doctorID && IsActive(a.Status) && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a.StartTime)
		}
	}
	return out, nil
}

func (m *mockRepo) NextToken(_ context.Context, doctorID uuid.UUID, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, a := range m.items {
		if a.DoctorID == doctorID && a.TokenNumber != nil && *a.TokenNumber > max &&
			!a.StartTime.Before(from) && a.StartTime.Before(to) {
			max = *a.TokenNumber
		}
	}
	return max + 1, nil
}

type txLocksKey struct{}

type txLocks struct {
	mu       sync.Mutex
	releases []func()
}

func (l *txLocks) add(release func()) {
	l.mu.Lock()
	l.releases = append(l.releases, release)
	l.mu.Unlock()
}

// lockingTx releases the locks taken inside fn when fn returns, the way a
// commit or rollback ends transaction-scoped locks.
type lockingTx struct{}

func (lockingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	held := &txLocks{}
	defer func() {
		for _, release := range held.releases {
			release()
		}
	}()
	return fn(context.WithValue(ctx, txLocksKey{}, held))
}

// stubSlots accepts any start on the half hour as a 30 minute slot.
type stubSlots struct{}

func (stubSlots) SlotFor(_ context.Context, _ uuid.UUID, start time.Time) (staff.Slot, error) {
	if start.Minute()%30 != 0 {
		return staff.Slot{}, apperr.Invalid("start_time does not match an available slot")
	}
	return staff.Slot{Start: start, End: start.Add(30 * time.Minute), Available: true}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var (
	ist, _ = time.LoadLocation("Asia/Kolkata")
	// Monday 2 March 2026, 08:00 IST.
	testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, ist)
)

func newTestService() (*Service, *mockRepo, *recordingPublisher) {
	repo := newMockRepo()
	pub := &recordingPublisher{}
	svc := NewService(repo, stubSlots{}, db.NoTx{}, pub, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, repo, pub
}

func hospitalCtx() context.Context {
	return db.WithHospital(context.Background(), &db.Hospital{Code: "sunrise", Timezone: "Asia/Kolkata", Active: true})
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, ist)
}

func book(t *testing.T, svc *Service, patientID, doctorID uuid.UUID, start time.Time) *Appointment {
	t.Helper()
	a, err := svc.Book(hospitalCtx(), patientID, uuid.New(), BookRequest{DoctorID: doctorID, StartTime: start})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return a
}

func TestBook(t *testing.T) {
	svc, _, pub := newTestService()
	a := book(t, svc, uuid.New(), uuid.New(), at(10, 0))
	if a.Status != StatusBooked || !a.EndTime.Equal(at(10, 30)) {
		t.Errorf("unexpected appointment %+v", a)
	}
	if got := pub.types(); len(got) != 1 || got[0] != events.AppointmentBooked {
		t.Errorf("expected booked event, got %v", got)
	}
}

func TestBook_PastStart(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Book(hospitalCtx(), uuid.New(), uuid.New(), BookRequest{DoctorID: uuid.New(), StartTime: at(7, 30)})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestBook_NotASlot(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Book(hospitalCtx(), uuid.New(), uuid.New(), BookRequest{DoctorID: uuid.New(), StartTime: at(10, 10)})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestBook_DoubleBooking(t *testing.T) {
	svc, _, _ := newTestService()
	doctor := uuid.New()
	book(t, svc, uuid.New(), doctor, at(10, 0))

	_, err := svc.Book(hospitalCtx(), uuid.New(), uuid.New(), BookRequest{DoctorID: doctor, StartTime: at(10, 0)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestBook_OnePerDoctorPerDay(t *testing.T) {
	svc, _, _ := newTestService()
	doctor, patient := uuid.New(), uuid.New()
	book(t, svc, patient, doctor, at(10, 0))

	_, err := svc.Book(hospitalCtx(), patient, uuid.New(), BookRequest{DoctorID: doctor, StartTime: at(15, 0)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	// A different doctor the same day is fine.
	book(t, svc, patient, uuid.New(), at(15, 0))
}

func TestBook_LocksPatientDayBeforeChecking(t *testing.T) {
	svc, repo, _ := newTestService()
	book(t, svc, uuid.New(), uuid.New(), at(10, 0))

	want := []string{"lock 2026-03-02", "check", "create"}
	if len(repo.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, repo.calls)
	}
	for i := range want {
		if repo.calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], repo.calls[i])
		}
	}
}

func TestBook_ConcurrentSameDayOnlyOneWins(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, stubSlots{}, lockingTx{}, &recordingPublisher{}, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	doctor, patient := uuid.New(), uuid.New()

	starts := []time.Time{at(10, 0), at(11, 0), at(15, 0), at(16, 30)}
	errs := make(chan error, len(starts))
	var wg sync.WaitGroup
	for _, start := range starts {
		wg.Add(1)
		go func(start time.Time) {
			defer wg.Done()
			_, err := svc.Book(hospitalCtx(), patient, uuid.New(), BookRequest{DoctorID: doctor, StartTime: start})
			errs <- err
		}(start)
	}
	wg.Wait()
	close(errs)

	booked := 0
	for err := range errs {
		switch {
		case err == nil:
			booked++
		case !errors.Is(err, apperr.ErrConflict):
			t.Errorf("expected conflict, got %v", err)
		}
	}
	if booked != 1 {
		t.Errorf("expected exactly one booking to win, got %d", booked)
	}
}

func TestReschedule_LocksTargetDay(t *testing.T) {
	svc, repo, _ := newTestService()
	a := book(t, svc, uuid.New(), uuid.New(), at(10, 0))
	repo.calls = nil

	if _, err := svc.Reschedule(hospitalCtx(), a.ID, time.Date(2026, 3, 3, 11, 0, 0, 0, ist)); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if len(repo.calls) < 2 || repo.calls[0] != "lock 2026-03-03" || repo.calls[1] != "check" {
		t.Errorf("expected the new day to be locked before the check, got %v", repo.calls)
	}
}

func TestBook_SlotFreedByCancel(t *testing.T) {
	svc, _, _ := newTestService()
	doctor := uuid.New()
	a := book(t, svc, uuid.New(), doctor, at(10, 0))
	if _, err := svc.Cancel(hospitalCtx(), a.ID, "doctor unavailable"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	book(t, svc, uuid.New(), doctor, at(10, 0))
}

func TestCheckIn_AssignsTokens(t *testing.T) {
	svc, _, pub := newTestService()
	doctor := uuid.New()
	first := book(t, svc, uuid.New(), doctor, at(11, 0))
	second := book(t, svc, uuid.New(), doctor, at(10, 0))

	a, err := svc.CheckIn(hospitalCtx(), first.ID)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if a.TokenNumber == nil || *a.TokenNumber != 1 || a.CheckedInAt == nil {
		t.Errorf("expected token 1, got %+v", a)
	}
	b, err := svc.CheckIn(hospitalCtx(), second.ID)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if *b.TokenNumber != 2 {
		t.Errorf("expected token 2 by arrival order, got %d", *b.TokenNumber)
	}
	if _, err := svc.CheckIn(hospitalCtx(), first.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on second check-in, got %v", err)
	}
	types := pub.types()
	if types[len(types)-1] != events.AppointmentCheckedIn {
		t.Errorf("expected checked_in event, got %v", types)
	}
}

func TestCheckIn_NotToday(t *testing.T) {
	svc, _, _ := newTestService()
	a := book(t, svc, uuid.New(), uuid.New(), at(10, 0).AddDate(0, 0, 1))
	if _, err := svc.CheckIn(hospitalCtx(), a.ID); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestCancelOwn(t *testing.T) {
	svc, _, _ := newTestService()
	patient := uuid.New()
	a := book(t, svc, patient, uuid.New(), at(10, 0))

	if _, err := svc.CancelOwn(hospitalCtx(), uuid.New(), a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for another patient, got %v", err)
	}
	got, err := svc.CancelOwn(hospitalCtx(), patient, a.ID)
	if err != nil {
		t.Fatalf("CancelOwn: %v", err)
	}
	if got.Status != StatusCancelled || got.CancelReason == nil {
		t.Errorf("unexpected appointment %+v", got)
	}
}

func TestCancelOwn_CheckedIn(t *testing.T) {
	svc, _, _ := newTestService()
	patient := uuid.New()
	a := book(t, svc, patient, uuid.New(), at(10, 0))
	if _, err := svc.CheckIn(hospitalCtx(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CancelOwn(hospitalCtx(), patient, a.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	// The front desk can still cancel.
	if _, err := svc.Cancel(hospitalCtx(), a.ID, "left"); err != nil {
		t.Errorf("Cancel: %v", err)
	}
}

func TestNoShow(t *testing.T) {
	svc, _, _ := newTestService()
	a := book(t, svc, uuid.New(), uuid.New(), at(10, 0))
	got, err := svc.NoShow(hospitalCtx(), a.ID)
	if err != nil || got.Status != StatusNoShow {
		t.Fatalf("NoShow: %v %+v", err, got)
	}
	if _, err := svc.NoShow(hospitalCtx(), a.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestReschedule(t *testing.T) {
	svc, _, pub := newTestService()
	doctor := uuid.New()
	a := book(t, svc, uuid.New(), doctor, at(10, 0))
	book(t, svc, uuid.New(), doctor, at(12, 0))

	if _, err := svc.Reschedule(hospitalCtx(), a.ID, at(12, 0)); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on a taken slot, got %v", err)
	}
	got, err := svc.Reschedule(hospitalCtx(), a.ID, at(12, 30))
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !got.StartTime.Equal(at(12, 30)) || got.Status != StatusBooked {
		t.Errorf("unexpected appointment %+v", got)
	}

	pub.mu.Lock()
	last := pub.events[len(pub.events)-1]
	pub.mu.Unlock()
	var data eventData
	if err := last.Decode(&data); err != nil {
		t.Fatal(err)
	}
	if last.Type != events.AppointmentRescheduled || data.PreviousStartTime == nil || !data.PreviousStartTime.Equal(at(10, 0)) {
		t.Errorf("unexpected event %s %+v", last.Type, data)
	}
}

func TestAdvance(t *testing.T) {
	svc, _, _ := newTestService()
	a := book(t, svc, uuid.New(), uuid.New(), at(10, 0))
	if _, err := svc.Advance(hospitalCtx(), a.ID, StatusTriaged); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict before check-in, got %v", err)
	}
	if _, err := svc.CheckIn(hospitalCtx(), a.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Advance(hospitalCtx(), a.ID, StatusTriaged)
	if err != nil || got.Status != StatusTriaged {
		t.Fatalf("Advance: %v %+v", err, got)
	}
}

func TestListForPatient(t *testing.T) {
	svc, repo, _ := newTestService()
	patient := uuid.New()
	a := book(t, svc, patient, uuid.New(), at(10, 0))
	book(t, svc, patient, uuid.New(), at(11, 0))
	repo.items[a.ID].Status = StatusCompleted

	upcoming, _, err := svc.ListForPatient(hospitalCtx(), patient, "upcoming", 20, 0)
	if err != nil || len(upcoming) != 1 {
		t.Fatalf("expected 1 upcoming, got %d (%v)", len(upcoming), err)
	}
	past, _, _ := svc.ListForPatient(hospitalCtx(), patient, "past", 20, 0)
	if len(past) != 1 || past[0].ID != a.ID {
		t.Errorf("expected the completed visit in past, got %+v", past)
	}
	if _, _, err := svc.ListForPatient(hospitalCtx(), patient, "soon", 20, 0); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid scope, got %v", err)
	}
}

func TestListForDay(t *testing.T) {
	svc, _, _ := newTestService()
	doctor := uuid.New()
	book(t, svc, uuid.New(), doctor, at(10, 0))
	book(t, svc, uuid.New(), uuid.New(), at(10, 0))
	book(t, svc, uuid.New(), doctor, at(10, 0).AddDate(0, 0, 1))

	items, total, err := svc.ListForDay(hospitalCtx(), "2026-03-02", "", &doctor, 20, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("expected 1, got %d (%v)", total, err)
	}
	all, _, _ := svc.ListForDay(hospitalCtx(), "", StatusBooked, nil, 20, 0)
	if len(all) != 2 {
		t.Errorf("expected today's 2 appointments, got %d", len(all))
	}
	if _, _, err := svc.ListForDay(hospitalCtx(), "", "lost", nil, 20, 0); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid status, got %v", err)
	}
}
