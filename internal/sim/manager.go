package sim

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/config"
	"marketsim/internal/replay"
)

// Meta is the lightweight, persistable identity of one session — everything
// needed to recreate an equivalent Simulator (same seed, same difficulty)
// without replaying its event history.
type Meta struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      float64   `json:"created_at"`
	Seed           int64     `json:"seed"`
	DifficultyName string    `json:"difficulty_name"`
	UserID         string    `json:"user_id"`
}

// Manager owns zero or more live Simulator sessions keyed by session id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Simulator
	meta     map[string]Meta
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Simulator),
		meta:     make(map[string]Meta),
	}
}

// CreateSession starts a new session for cfg, optionally with an explicit
// seed for determinism (tests, replay). userID defaults to "local" when empty.
func (m *Manager) CreateSession(cfg config.Difficulty, seed *int64, userID string) Meta {
	m.mu.Lock()
	defer m.mu.Unlock()

	if userID == "" {
		userID = "local"
	}

	var resolvedSeed int64
	if seed != nil {
		resolvedSeed = *seed
	} else {
		resolvedSeed = time.Now().UnixNano() & 0x7FFFFFFF
	}

	session := New(cfg, &resolvedSeed)
	sessionID := uuid.New().String()

	meta := Meta{
		SessionID:      sessionID,
		CreatedAt:      nowSeconds(),
		Seed:           resolvedSeed,
		DifficultyName: cfg.Name,
		UserID:         userID,
	}

	m.sessions[sessionID] = session
	m.meta[sessionID] = meta
	return meta
}

// Get returns the live Simulator for sessionID.
func (m *Manager) Get(sessionID string) (*Simulator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("sim: unknown session_id %q", sessionID)
	}
	return s, nil
}

// GetMeta returns the metadata for sessionID.
func (m *Manager) GetMeta(sessionID string) (Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.meta[sessionID]
	if !ok {
		return Meta{}, fmt.Errorf("sim: unknown session_id %q", sessionID)
	}
	return meta, nil
}

// CloseSession stops and forgets a session. Returns false if it didn't exist.
func (m *Manager) CloseSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, existed := m.sessions[sessionID]
	if existed {
		s.Close()
	}
	delete(m.sessions, sessionID)
	delete(m.meta, sessionID)
	return existed
}

// ListSessions returns a copy of every session's metadata.
func (m *Manager) ListSessions() map[string]Meta {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Meta, len(m.meta))
	for k, v := range m.meta {
		out[k] = v
	}
	return out
}

// checkpointPayload is the on-disk shape written by SaveCheckpoint: session
// metadata plus a UI-resumable snapshot.
type checkpointPayload struct {
	Meta     Meta            `json:"meta"`
	Snapshot MarketSnapshot  `json:"snapshot"`
	SavedAt  float64         `json:"saved_at"`
}

// SaveCheckpoint atomically writes sessionID's metadata and current snapshot
// to path, via internal/replay's atomic writer.
func (m *Manager) SaveCheckpoint(sessionID, path string) error {
	session, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	meta, err := m.GetMeta(sessionID)
	if err != nil {
		return err
	}

	payload := checkpointPayload{
		Meta:     meta,
		Snapshot: session.GetStateSnapshot(),
		SavedAt:  nowSeconds(),
	}
	return replay.WriteJSON(path, payload)
}

// DifficultyByName resolves a difficulty preset by its case-insensitive
// name, falling back to Medium for anything unrecognized — mirroring the
// original checkpoint loader's "custom" fallback.
func DifficultyByName(name string) config.Difficulty {
	switch strings.ToUpper(name) {
	case "EASY":
		return config.Easy()
	case "HARD":
		return config.Hard()
	case "AXXELA":
		return config.Axxela()
	default:
		return config.Medium()
	}
}

// LoadCheckpoint restores session metadata from path and starts a fresh
// session with the SAME seed, so its digit sequence and settlement price
// are identical to the checkpointed run. This resumes for UI purposes; a
// full state restore would require replaying the event log instead.
func (m *Manager) LoadCheckpoint(path string) (Meta, *Simulator, error) {
	var payload checkpointPayload
	if err := replay.ReadJSON(path, &payload); err != nil {
		return Meta{}, nil, err
	}

	cfg := DifficultyByName(payload.Meta.DifficultyName)
	seed := payload.Meta.Seed
	meta := m.CreateSession(cfg, &seed, payload.Meta.UserID)

	session, err := m.Get(meta.SessionID)
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, session, nil
}
