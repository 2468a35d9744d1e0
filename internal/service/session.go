package service

import (
	"sync"

	"github.com/CZERTAINLY/Recon/internal/model"
)

// SessionStore holds the single active session. A new run overwrites the
// previous session, concurrent runs are last write wins.
type SessionStore interface {
	SetActive(s model.Session)
	Active() (model.Session, bool)
	// Take returns the active session and clears the slot.
	Take() (model.Session, bool)
}

type MemorySessionStore struct {
	mx      sync.Mutex
	session *model.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) SetActive(s model.Session) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.session = &s
}

func (m *MemorySessionStore) Active() (model.Session, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.session == nil {
		return model.Session{}, false
	}
	return *m.session, true
}

func (m *MemorySessionStore) Take() (model.Session, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.session == nil {
		return model.Session{}, false
	}
	s := *m.session
	m.session = nil
	return s, true
}
