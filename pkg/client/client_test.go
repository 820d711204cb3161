package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeAPI accepts one valid access token and rotates it on refresh.
type fakeAPI struct {
	mu        sync.Mutex
	access    string
	refresh   string
	refreshes int32
	refreshOK bool
	hospitals []string
	meCalls   int32
	// slowMe delays the second /auth/me request.
	slowMe time.Duration
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{access: "access-2", refresh: "refresh-1", refreshOK: true}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hospitals = append(f.hospitals, r.Header.Get("X-Hospital-ID"))
	f.mu.Unlock()

	switch r.URL.Path {
	case "/api/v1/auth/login":
		var req struct {
			Login    string `json:"login"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "s3cret!Pass" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1", Role: "doctor"})
	case "/api/v1/auth/refresh":
		atomic.AddInt32(&f.refreshes, 1)
		time.Sleep(20 * time.Millisecond)
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		ok := f.refreshOK && req.RefreshToken == f.refresh
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid refresh token"})
			return
		}
		writeJSON(w, http.StatusOK, TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"})
	case "/api/v1/auth/me":
		if atomic.AddInt32(&f.meCalls, 1) == 2 && f.slowMe > 0 {
			time.Sleep(f.slowMe)
		}
		if r.Header.Get("Authorization") != "Bearer "+f.access {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hospital": "sunrise", "user": map[string]any{"role": "doctor"}})
	case "/api/v1/appointments":
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "validation failed",
			"fields":  map[string]string{"doctor_id": "required"},
		})
	default:
		http.NotFound(w, r)
	}
}

func bookRequest() BookRequest {
	return BookRequest{StartTime: time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)}
}

func TestLogin_StoresTokensAndSendsHospital(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := New(srv.URL, WithHospital("sunrise"))
	pair, err := c.Login(context.Background(), "doc@example.com", "s3cret!Pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.Role != "doctor" {
		t.Errorf("expected doctor role, got %s", pair.Role)
	}
	if got := c.Tokens(); got.Access != "access-1" || got.Refresh != "refresh-1" {
		t.Errorf("tokens not stored: %+v", got)
	}
	if api.hospitals[0] != "sunrise" {
		t.Errorf("expected X-Hospital-ID sunrise, got %q", api.hospitals[0])
	}
}

func TestLogin_BadCredentialsDoNotRefresh(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens(Tokens{Access: "stale", Refresh: "refresh-1"})
	_, err := c.Login(context.Background(), "doc@example.com", "wrong")
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if n := atomic.LoadInt32(&api.refreshes); n != 0 {
		t.Errorf("login failure must not trigger refresh, got %d", n)
	}
}

func TestExpiredAccess_RefreshesOnceForConcurrentCallers(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens(Tokens{Access: "access-1", Refresh: "refresh-1"})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Me(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if n := atomic.LoadInt32(&api.refreshes); n != 1 {
		t.Errorf("expected exactly one refresh, got %d", n)
	}
	if got := c.Tokens(); got.Access != "access-2" || got.Refresh != "refresh-2" {
		t.Errorf("expected rotated tokens, got %+v", got)
	}
}

func TestRefreshFailure_ExpiresSession(t *testing.T) {
	api := newFakeAPI()
	api.refreshOK = false
	srv := httptest.NewServer(api)
	defer srv.Close()

	var expired int32
	c := New(srv.URL, WithSessionExpired(func() { atomic.AddInt32(&expired, 1) }))
	c.SetTokens(Tokens{Access: "access-1", Refresh: "refresh-1"})

	_, err := c.Me(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if atomic.LoadInt32(&expired) != 1 {
		t.Errorf("expected session-expired hook once, got %d", expired)
	}
	if got := c.Tokens(); got.Access != "" || got.Refresh != "" {
		t.Errorf("tokens should be cleared, got %+v", got)
	}
}

func TestRefreshFailure_LateCallerDoesNotExpireAgain(t *testing.T) {
	api := newFakeAPI()
	api.refreshOK = false
	api.slowMe = 150 * time.Millisecond
	srv := httptest.NewServer(api)
	defer srv.Close()

	var expired int32
	c := New(srv.URL, WithSessionExpired(func() { atomic.AddInt32(&expired, 1) }))
	c.SetTokens(Tokens{Access: "access-1", Refresh: "refresh-1"})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Me(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrSessionExpired) {
			t.Errorf("expected ErrSessionExpired, got %v", err)
		}
	}
	if n := atomic.LoadInt32(&expired); n != 1 {
		t.Errorf("expected session-expired hook once, got %d", n)
	}
	if n := atomic.LoadInt32(&api.refreshes); n != 1 {
		t.Errorf("expected one refresh attempt, got %d", n)
	}
}

func TestNoRefreshToken_ExpiresSession(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens(Tokens{Access: "access-1"})
	if _, err := c.Me(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if n := atomic.LoadInt32(&api.refreshes); n != 0 {
		t.Errorf("expected no refresh call, got %d", n)
	}
}

func TestAPIError_ValidationFields(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens(Tokens{Access: "access-2", Refresh: "refresh-1"})
	_, err := c.BookAppointment(context.Background(), bookRequest())
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Status != http.StatusBadRequest || ae.Message != "validation failed" || ae.Fields["doctor_id"] != "required" {
		t.Errorf("unexpected error %+v", ae)
	}
}

func TestAPIError_PlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Me(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) || ae.Status != http.StatusBadGateway || ae.Message != "Bad Gateway" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSaveDraft_Conflict(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || !strings.HasSuffix(r.URL.Path, "/encounters/"+id.String()+"/draft") {
			http.NotFound(w, r)
			return
		}
		var req saveDraftRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.BaseRevision != 4 {
			writeJSON(w, http.StatusConflict, map[string]any{
				"message":  "draft was saved elsewhere",
				"revision": 4,
				"current":  Draft{EncounterID: id, Revision: 4, Payload: json.RawMessage(`{"a":1}`)},
			})
			return
		}
		writeJSON(w, http.StatusOK, Draft{EncounterID: id, Revision: 5, Payload: req.Payload})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SaveDraft(context.Background(), id, 2, json.RawMessage(`{"a":2}`))
	var conflict *DraftConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected DraftConflict, got %v", err)
	}
	if conflict.Revision != 4 || conflict.Current == nil || conflict.Current.Revision != 4 {
		t.Errorf("unexpected conflict %+v", conflict)
	}
	if !IsStatus(err, http.StatusConflict) {
		t.Error("conflict should unwrap to a 409 APIError")
	}

	d, err := c.SaveDraft(context.Background(), id, 4, json.RawMessage(`{"a":2}`))
	if err != nil || d.Revision != 5 {
		t.Errorf("expected revision 5, got %+v %v", d, err)
	}
}

func TestGetDraft_NoneIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "draft not found"})
	}))
	defer srv.Close()

	d, err := New(srv.URL).GetDraft(context.Background(), uuid.New())
	if err != nil || d != nil {
		t.Errorf("expected nil draft and no error, got %+v %v", d, err)
	}
}

func TestDoctorSlots_QueryAndEnvelope(t *testing.T) {
	doctorID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/doctors/"+doctorID.String()+"/slots" || r.URL.Query().Get("date") != "2026-03-02" {
			http.NotFound(w, r)
			return
		}
		start := time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"start": start, "end": start.Add(15 * time.Minute), "available": true},
		}})
	}))
	defer srv.Close()

	slots, err := New(srv.URL).DoctorSlots(context.Background(), doctorID, "2026-03-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 || !slots[0].Available {
		t.Errorf("unexpected slots %+v", slots)
	}
}

func TestLogout_ClearsTokensEvenOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "redis unavailable"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetTokens(Tokens{Access: "a", Refresh: "r"})
	if err := c.Logout(context.Background()); !IsStatus(err, http.StatusServiceUnavailable) {
		t.Errorf("expected 503, got %v", err)
	}
	if c.Tokens() != (Tokens{}) {
		t.Error("tokens should be cleared")
	}
}
