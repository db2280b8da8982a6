package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/carrydev/carrycode/internal/observability"
	"github.com/carrydev/carrycode/pkg/provider"
)

// SnapshotVersion tags the on-disk snapshot schema. Snapshots with a
// different version are ignored rather than migrated.
const SnapshotVersion = 1

// Snapshot is the full persisted state of one session.
type Snapshot struct {
	Version       int                `json:"version"`
	SessionID     string             `json:"session_id"`
	CreatedAtMs   int64              `json:"created_at_ms"`
	UpdatedAtMs   int64              `json:"updated_at_ms"`
	AgentMode     string             `json:"agent_mode"`
	ApprovalMode  string             `json:"approval_mode"`
	EnabledSkills []string           `json:"enabled_skills,omitempty"`
	Title         string             `json:"title,omitempty"`
	Messages      []provider.Message `json:"messages"`
}

// Meta is the lightweight listing record kept beside each snapshot.
type Meta struct {
	Version       int      `json:"version"`
	SessionID     string   `json:"session_id"`
	CreatedAtMs   int64    `json:"created_at_ms"`
	UpdatedAtMs   int64    `json:"updated_at_ms"`
	MessageCount  int      `json:"message_count"`
	AgentMode     string   `json:"agent_mode"`
	ApprovalMode  string   `json:"approval_mode"`
	EnabledSkills []string `json:"enabled_skills,omitempty"`
	Title         string   `json:"title,omitempty"`
}

// Store persists session snapshots as JSON files under a root
// directory, one subdirectory per session id.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// DefaultStore roots the store at ~/.carrycode/sessions.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}
	return NewStore(filepath.Join(home, ".carrycode", "sessions")), nil
}

// ValidateSessionID rejects ids unusable as directory names.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	if len(sessionID) > 128 {
		return fmt.Errorf("session id too long")
	}
	for _, c := range sessionID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("invalid session id: %q", sessionID)
		}
	}
	return nil
}

func (s *Store) sessionDir(sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, sessionID), nil
}

// atomicWrite writes via a temp file and rename so readers never see a
// partial snapshot.
func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("failed to write tmp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename tmp file: %w", err)
	}
	return nil
}

// SaveSnapshot persists a snapshot and its meta record. The original
// creation time survives rewrites.
func (s *Store) SaveSnapshot(snapshot Snapshot) error {
	start := time.Now()
	dir, err := s.sessionDir(snapshot.SessionID)
	if err != nil {
		return err
	}

	if meta, err := s.LoadMeta(snapshot.SessionID); err == nil && meta != nil {
		snapshot.CreatedAtMs = meta.CreatedAtMs
	} else if snapshot.CreatedAtMs <= 0 {
		snapshot.CreatedAtMs = time.Now().UnixMilli()
	}
	snapshot.UpdatedAtMs = time.Now().UnixMilli()
	snapshot.Version = SnapshotVersion

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if err := atomicWrite(filepath.Join(dir, "snapshot.json"), data); err != nil {
		return err
	}

	meta := Meta{
		Version:       SnapshotVersion,
		SessionID:     snapshot.SessionID,
		CreatedAtMs:   snapshot.CreatedAtMs,
		UpdatedAtMs:   snapshot.UpdatedAtMs,
		MessageCount:  len(snapshot.Messages),
		AgentMode:     snapshot.AgentMode,
		ApprovalMode:  snapshot.ApprovalMode,
		EnabledSkills: snapshot.EnabledSkills,
		Title:         snapshot.Title,
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize meta: %w", err)
	}
	if err := atomicWrite(filepath.Join(dir, "meta.json"), metaData); err != nil {
		return err
	}

	observability.RecordSessionSave(time.Since(start))
	return nil
}

// LoadSnapshot returns the stored snapshot, or nil when none exists or
// the stored version does not match.
func (s *Store) LoadSnapshot(sessionID string) (*Snapshot, error) {
	start := time.Now()
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(content, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, nil
	}

	observability.RecordSessionLoad(time.Since(start))
	return &snapshot, nil
}

// LoadMeta returns the stored meta record, or nil when none exists or
// the stored version does not match.
func (s *Store) LoadMeta(sessionID string) (*Meta, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta file: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(content, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse meta file: %w", err)
	}
	if meta.Version != SnapshotVersion {
		return nil, nil
	}
	return &meta, nil
}

// List returns meta records for every saved session, newest id first.
// A session with a snapshot but no meta file is still listed.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		if ValidateSessionID(sessionID) != nil {
			continue
		}

		meta, err := s.LoadMeta(sessionID)
		if err == nil && meta != nil {
			metas = append(metas, *meta)
			continue
		}
		snapshot, err := s.LoadSnapshot(sessionID)
		if err == nil && snapshot != nil {
			metas = append(metas, Meta{
				Version:       SnapshotVersion,
				SessionID:     snapshot.SessionID,
				CreatedAtMs:   snapshot.CreatedAtMs,
				UpdatedAtMs:   snapshot.UpdatedAtMs,
				MessageCount:  len(snapshot.Messages),
				AgentMode:     snapshot.AgentMode,
				ApprovalMode:  snapshot.ApprovalMode,
				EnabledSkills: snapshot.EnabledSkills,
				Title:         snapshot.Title,
			})
		}
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].SessionID > metas[j].SessionID })
	return metas, nil
}

// Delete removes a saved session from disk.
func (s *Store) Delete(sessionID string) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
