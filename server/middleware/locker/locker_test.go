package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTryLock(t *testing.T) {
	l := New()
	if !l.TryLock() {
		t.Fatal("expected a fresh locker to lock")
	}
	if l.TryLock() {
		t.Fatal("expected a held locker to refuse")
	}
	l.Unlock()
	if l.Locked() {
		t.Error("expected the locker to be released")
	}
}

func TestCheckRejectsWhileHeld(t *testing.T) {
	l := New()
	reached := false
	h := l.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if !l.Locked() {
			t.Error("expected the lock to be held inside the handler")
		}
	}))

	l.TryLock()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/galaxy", nil))
	if rec.Code != http.StatusLocked || reached {
		t.Fatalf("expected 423 without reaching the handler, got %d", rec.Code)
	}

	l.Unlock()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/galaxy", nil))
	if rec.Code != http.StatusOK || !reached {
		t.Fatalf("expected the handler to run, got %d", rec.Code)
	}
	if l.Locked() {
		t.Error("expected the lock to be released after the request")
	}
}

func TestHTTPGet(t *testing.T) {
	l := New()
	l.TryLock()
	rec := httptest.NewRecorder()
	l.HTTPGet(rec, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if !strings.Contains(rec.Body.String(), `"bool":true`) {
		t.Errorf("expected locked=true, got %s", rec.Body.String())
	}
}
