// Package locker provides an HTTP middleware which makes a handler exclusive,
// returning 423 (locked) to requests that arrive while another is in progress
package locker

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Locker is a type which behaves like a sync.Mutex without the blocking
type Locker struct {
	mu       sync.Mutex
	isLocked bool
}

// New returns a new, unlocked Locker
func New() *Locker {
	return &Locker{}
}

// TryLock locks the locker if it is not already, and returns true if it did
func (l *Locker) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isLocked {
		return false
	}
	l.isLocked = true
	return true
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.isLocked = false
	l.mu.Unlock()
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

// Check is an HTTP middleware that returns http.StatusLocked if the locker is
// held, otherwise holds it while passing down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	// return a handlerfunc wrapping a handler, middleware/generator pattern
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.TryLock() {
			http.Error(w, "a run is already in progress", http.StatusLocked)
			return
		}
		defer l.Unlock()
		next.ServeHTTP(w, r)
	})
}

// HTTPGet returns Locked() over HTTP as JSON {"bool": locked}
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Bool bool `json:"bool"`
	}{l.Locked()})
}
