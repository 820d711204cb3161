package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":             "report.pdf",
		"../../etc/passwd":       "passwd",
		"C:\\scans\\x ray 1.png": "x_ray_1.png",
		"...":                    "file",
		"blood test (final).pdf": "blood_test_final_.pdf",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
	long := strings.Repeat("a", 150) + ".pdf"
	if got := SanitizeFileName(long); len(got) != 100 || !strings.HasSuffix(got, ".pdf") {
		t.Errorf("long name not truncated correctly: %q", got)
	}
}

func TestObjectKey(t *testing.T) {
	got := ObjectKey("sunrise", "p1", "a1", "my scan.png")
	if got != "sunrise/p1/a1/my_scan.png" {
		t.Errorf("unexpected key %s", got)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore("http://files.local")
	ctx := context.Background()

	obj, err := s.Put(ctx, "h/p/a/r.pdf", "application/pdf", strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Size != 5 || len(obj.SHA256) != 64 {
		t.Errorf("unexpected object %+v", obj)
	}

	rc, meta, err := s.Get(ctx, "h/p/a/r.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" || meta.ContentType != "application/pdf" {
		t.Errorf("unexpected content %q / %+v", data, meta)
	}

	url, err := s.PresignGet(ctx, "h/p/a/r.pdf", "r.pdf", 15*time.Minute)
	if err != nil || !strings.HasPrefix(url, "http://files.local/h/p/a/r.pdf?expires=") {
		t.Errorf("unexpected presigned url %q (%v)", url, err)
	}

	if err := s.Delete(ctx, "h/p/a/r.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Get(ctx, "h/p/a/r.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
}

func TestMemoryStore_TooLarge(t *testing.T) {
	s := NewMemoryStore("")
	if _, err := s.Put(context.Background(), "k", "image/png", strings.NewReader("x"), MaxFileSize+1); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge from declared size, got %v", err)
	}
	big := strings.NewReader(strings.Repeat("x", MaxFileSize+1))
	if _, err := s.Put(context.Background(), "k", "image/png", big, -1); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge from content, got %v", err)
	}
}

func TestMemoryStore_MissingKey(t *testing.T) {
	s := NewMemoryStore("")
	if err := s.Delete(context.Background(), "nope"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := s.PresignGet(context.Background(), "nope", "", time.Minute); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}
