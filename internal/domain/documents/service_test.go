package documents

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/blobstore"
	"github.com/medmitra/medmitra/internal/platform/db"
)

type mockRepo struct {
	items map[uuid.UUID]*Attachment
	fail  error
}

func (m *mockRepo) Create(_ context.Context, a *Attachment) error {
	if m.fail != nil {
		return m.fail
	}
	m.items[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Attachment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("attachment")
	}
	return a, nil
}

func (m *mockRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*Attachment, error) {
	var out []*Attachment
	for _, a := range m.items {
		if a.EncounterID != nil && *a.EncounterID == encounterID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*Attachment, int, error) {
	var out []*Attachment
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

type stubEncounters struct {
	patientID, doctorID uuid.UUID
}

func (s stubEncounters) EncounterParties(context.Context, uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	return s.patientID, s.doctorID, nil
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

type fixture struct {
	svc   *Service
	repo  *mockRepo
	store *blobstore.MemoryStore
	enc   stubEncounters
}

func newFixture() fixture {
	repo := &mockRepo{items: make(map[uuid.UUID]*Attachment)}
	store := blobstore.NewMemoryStore("http://files.local")
	enc := stubEncounters{patientID: uuid.New(), doctorID: uuid.New()}
	return fixture{svc: NewService(repo, store, enc, zerolog.Nop()), repo: repo, store: store, enc: enc}
}

func ctxAs(role, subject string) (context.Context, string) {
	userID := uuid.NewString()
	ctx := db.WithHospital(context.Background(), &db.Hospital{Code: "sunrise", Active: true})
	return auth.WithPrincipal(ctx, &auth.Principal{UserID: userID, Role: role, SubjectID: subject}), userID
}

func (f fixture) upload(t *testing.T, ctx context.Context) *Attachment {
	t.Helper()
	a, err := f.svc.Upload(ctx, uuid.New(), Upload{FileName: "cbc report.pdf", Category: CategoryLabReport, Size: int64(len(pdfBytes))}, bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return a
}

func TestUpload(t *testing.T) {
	f := newFixture()
	ctx, _ := ctxAs(auth.RoleCoordinator, uuid.NewString())
	a := f.upload(t, ctx)

	if a.ContentType != "application/pdf" || a.PatientID != f.enc.patientID || a.SHA256 == "" {
		t.Errorf("unexpected attachment %+v", a)
	}
	wantPrefix := "sunrise/" + f.enc.patientID.String() + "/" + a.ID.String() + "/"
	if !strings.HasPrefix(a.ObjectKey, wantPrefix) || !strings.HasSuffix(a.ObjectKey, "cbc_report.pdf") {
		t.Errorf("unexpected object key %s", a.ObjectKey)
	}
	if f.store.Len() != 1 {
		t.Errorf("expected 1 stored object, got %d", f.store.Len())
	}
}

func TestUpload_RejectsContent(t *testing.T) {
	f := newFixture()
	ctx, _ := ctxAs(auth.RoleCoordinator, uuid.NewString())
	_, err := f.svc.Upload(ctx, uuid.New(), Upload{FileName: "notes.pdf", Category: CategoryOther, Size: 5}, strings.NewReader("hello"))
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid for text disguised as pdf, got %v", err)
	}
	_, err = f.svc.Upload(ctx, uuid.New(), Upload{FileName: "a.pdf", Category: "xray", Size: 5}, bytes.NewReader(pdfBytes))
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid category, got %v", err)
	}
	_, err = f.svc.Upload(ctx, uuid.New(), Upload{FileName: "a.pdf", Category: CategoryOther, Size: blobstore.MaxFileSize + 1}, bytes.NewReader(pdfBytes))
	if !errors.Is(err, blobstore.ErrFileTooLarge) {
		t.Errorf("expected too large, got %v", err)
	}
}

func TestUpload_OtherDoctorForbidden(t *testing.T) {
	f := newFixture()
	ctx, _ := ctxAs(auth.RoleDoctor, uuid.NewString())
	_, err := f.svc.Upload(ctx, uuid.New(), Upload{FileName: "a.pdf", Category: CategoryOther, Size: 10}, bytes.NewReader(pdfBytes))
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	own, _ := ctxAs(auth.RoleDoctor, f.enc.doctorID.String())
	f.upload(t, own)
}

func TestUpload_RowFailureRemovesObject(t *testing.T) {
	f := newFixture()
	f.repo.fail = errors.New("db down")
	ctx, _ := ctxAs(auth.RoleCoordinator, uuid.NewString())
	if _, err := f.svc.Upload(ctx, uuid.New(), Upload{FileName: "a.pdf", Category: CategoryOther, Size: 10}, bytes.NewReader(pdfBytes)); err == nil {
		t.Fatal("expected error")
	}
	if f.store.Len() != 0 {
		t.Error("expected orphaned object to be removed")
	}
}

func TestDownloadURL_Access(t *testing.T) {
	f := newFixture()
	staff, _ := ctxAs(auth.RoleCoordinator, uuid.NewString())
	a := f.upload(t, staff)

	owner, _ := ctxAs(auth.RolePatient, f.enc.patientID.String())
	url, err := f.svc.DownloadURL(owner, a.ID)
	if err != nil || !strings.HasPrefix(url, "http://files.local/") {
		t.Fatalf("unexpected url %q (%v)", url, err)
	}
	stranger, _ := ctxAs(auth.RolePatient, uuid.NewString())
	if _, err := f.svc.DownloadURL(stranger, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for another patient, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture()
	uploaderCtx, _ := ctxAs(auth.RoleCoordinator, uuid.NewString())
	a := f.upload(t, uploaderCtx)

	other, _ := ctxAs(auth.RoleCoordinator, uuid.NewString())
	if err := f.svc.Delete(other, a.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if err := f.svc.Delete(uploaderCtx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.store.Len() != 0 || len(f.repo.items) != 0 {
		t.Error("expected object and row removed")
	}
}
