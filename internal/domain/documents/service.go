package documents

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/blobstore"
	"github.com/medmitra/medmitra/internal/platform/db"
)

// EncounterLookup resolves the patient and doctor of an encounter.
type EncounterLookup interface {
	EncounterParties(ctx context.Context, encounterID uuid.UUID) (patientID, doctorID uuid.UUID, err error)
}

type Service struct {
	repo       Repository
	store      blobstore.Store
	encounters EncounterLookup
	logger     zerolog.Logger
}

func NewService(repo Repository, store blobstore.Store, encounters EncounterLookup, logger zerolog.Logger) *Service {
	return &Service{repo: repo, store: store, encounters: encounters, logger: logger}
}

// sniff detects the content type from the first bytes instead of trusting
// the client.
func sniff(r io.Reader) (string, io.Reader, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", nil, err
	}
	if len(head) == 0 {
		return "", nil, apperr.Invalid("file is empty")
	}
	return http.DetectContentType(head), br, nil
}

// checkEncounterAccess lets coordinators, admins and the encounter's own
// doctor through.
func checkEncounterAccess(p *auth.Principal, doctorID uuid.UUID) error {
	switch {
	case p == nil:
		return apperr.Forbidden("authentication required")
	case p.Is(auth.RoleCoordinator), p.Is(auth.RoleAdmin):
		return nil
	case p.Is(auth.RoleDoctor) && p.SubjectID == doctorID.String():
		return nil
	}
	return apperr.Forbidden("not allowed to access this encounter's attachments")
}

// Upload stores a file against an encounter.
func (s *Service) Upload(ctx context.Context, encounterID uuid.UUID, in Upload, r io.Reader) (*Attachment, error) {
	if !validCategories[in.Category] {
		return nil, apperr.Invalid("category must be one of lab-report, imaging, prescription-scan, other")
	}
	if in.Size > blobstore.MaxFileSize {
		return nil, blobstore.ErrFileTooLarge
	}
	p := auth.PrincipalFromContext(ctx)
	patientID, doctorID, err := s.encounters.EncounterParties(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if err := checkEncounterAccess(p, doctorID); err != nil {
		return nil, err
	}
	uploader, err := uuid.Parse(p.UserID)
	if err != nil {
		return nil, apperr.Forbidden("invalid caller")
	}

	contentType, body, err := sniff(r)
	if err != nil {
		return nil, err
	}
	if !blobstore.AllowedContentTypes[contentType] {
		return nil, apperr.Invalid("only PDF, PNG and JPEG files are accepted")
	}

	a := &Attachment{
		ID:          uuid.New(),
		PatientID:   patientID,
		EncounterID: &encounterID,
		UploadedBy:  uploader,
		FileName:    blobstore.SanitizeFileName(in.FileName),
		ContentType: contentType,
		Category:    in.Category,
	}
	a.ObjectKey = blobstore.ObjectKey(db.HospitalCodeFromContext(ctx), patientID.String(), a.ID.String(), in.FileName)

	obj, err := s.store.Put(ctx, a.ObjectKey, contentType, body, in.Size)
	if err != nil {
		return nil, err
	}
	a.SizeBytes, a.SHA256 = obj.Size, obj.SHA256
	if err := s.repo.Create(ctx, a); err != nil {
		if derr := s.store.Delete(ctx, a.ObjectKey); derr != nil {
			s.logger.Warn().Err(derr).Str("key", a.ObjectKey).Msg("remove orphaned object")
		}
		return nil, err
	}
	return a, nil
}

// ListForEncounter lists an encounter's attachments for staff.
func (s *Service) ListForEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error) {
	_, doctorID, err := s.encounters.EncounterParties(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if err := checkEncounterAccess(auth.PrincipalFromContext(ctx), doctorID); err != nil {
		return nil, err
	}
	return s.ByEncounter(ctx, encounterID)
}

// ByEncounter lists attachments without an access check, for callers that
// already authorised the encounter.
func (s *Service) ByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error) {
	items, err := s.repo.ListByEncounter(ctx, encounterID)
	if items == nil && err == nil {
		items = []*Attachment{}
	}
	return items, err
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Attachment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func canRead(p *auth.Principal, a *Attachment) bool {
	if p == nil {
		return false
	}
	if p.Is(auth.RolePatient) {
		return p.SubjectID == a.PatientID.String()
	}
	return p.Is(auth.RoleDoctor) || p.Is(auth.RoleCoordinator) || p.Is(auth.RoleAdmin)
}

// DownloadURL returns a short-lived link to the file.
func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID) (string, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !canRead(auth.PrincipalFromContext(ctx), a) {
		return "", apperr.NotFound("attachment")
	}
	url, err := s.store.PresignGet(ctx, a.ObjectKey, a.FileName, DownloadTTL)
	if errors.Is(err, blobstore.ErrObjectNotFound) {
		return "", apperr.NotFound("attachment file")
	}
	return url, err
}

// Delete removes the object and then the row. Only the uploader or an admin
// may delete.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p := auth.PrincipalFromContext(ctx)
	if p == nil || (!p.Is(auth.RoleAdmin) && p.UserID != a.UploadedBy.String()) {
		return apperr.Forbidden("only the uploader or an admin can delete an attachment")
	}
	if err := s.store.Delete(ctx, a.ObjectKey); err != nil && !errors.Is(err, blobstore.ErrObjectNotFound) {
		return err
	}
	return s.repo.Delete(ctx, id)
}
