// Package history persists a local, append-only record of orchestrator runs
// per service, used by `jiji history` and by rollback to find the last
// successful deployment.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acidtib/jiji/internal/output"
)

// Status is the lifecycle state of one recorded deployment attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Record is a single orchestrator run against one service.
type Record struct {
	ID              string            `json:"id"`
	Service         string            `json:"service"`
	Project         string            `json:"project"`
	Image           string            `json:"image"`
	Version         string            `json:"version"`
	Destination     string            `json:"destination,omitempty"`
	Hosts           []string          `json:"hosts"`
	Status          Status            `json:"status"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at,omitempty"`
	Duration        time.Duration     `json:"duration,omitempty"`
	Error           string            `json:"error,omitempty"`
	RolledBack      bool              `json:"rolled_back"`
	PreviousVersion string            `json:"previous_version,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Store persists Records as one JSON file per run, under
// <basePath>/.jiji/history.
type Store struct {
	basePath string
	retain   int
	mu       sync.RWMutex
	log      *output.Logger
}

func NewStore(basePath string, retain int, log *output.Logger) *Store {
	if log == nil {
		log = output.DefaultLogger
	}
	return &Store{
		basePath: filepath.Join(basePath, ".jiji", "history"),
		retain:   retain,
		log:      log,
	}
}

func (s *Store) Record(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s_%s.json", r.Service, r.StartedAt.Format("20060102_150405"), r.ID)
	path := filepath.Join(s.basePath, filename)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}

	go s.cleanup(r.Service)
	return nil
}

func (s *Store) Update(r *Record) error { return s.Record(r) }

// List returns records for service, newest first, capped to limit (0 = unbounded).
func (s *Store) List(service string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(s.basePath, fmt.Sprintf("%s_*.json", service)))
	if err != nil {
		return nil, fmt.Errorf("listing history files: %w", err)
	}

	var records []*Record
	for _, file := range files {
		r, err := s.loadRecord(file)
		if err != nil {
			s.log.Debug("failed to load record %s: %v", file, err)
			continue
		}
		records = append(records, r)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt.After(records[j].StartedAt) })

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) LastSuccessful(service string) (*Record, error) {
	records, err := s.List(service, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Status == StatusSuccess {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no successful deployments found for %s", service)
}

func (s *Store) Last(service string) (*Record, error) {
	records, err := s.List(service, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no deployments found for %s", service)
	}
	return records[0], nil
}

func (s *Store) loadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) cleanup(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(s.basePath, fmt.Sprintf("%s_*.json", service)))
	if err != nil {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		infoI, errI := os.Stat(files[i])
		infoJ, errJ := os.Stat(files[j])
		if errI != nil || errJ != nil {
			return false
		}
		return infoI.ModTime().Before(infoJ.ModTime())
	})

	if s.retain > 0 && len(files) > s.retain {
		for _, file := range files[:len(files)-s.retain] {
			_ = os.Remove(file)
		}
	}
}

// NewRecord creates a pending Record with a fresh ID.
func NewRecord(service, project, image, version, destination string, hosts []string) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Service:     service,
		Project:     project,
		Image:       image,
		Version:     version,
		Destination: destination,
		Hosts:       hosts,
		Status:      StatusPending,
		StartedAt:   time.Now(),
		Metadata:    make(map[string]string),
	}
}

func (r *Record) Start() {
	r.Status = StatusRunning
	r.StartedAt = time.Now()
}

func (r *Record) Complete() {
	r.Status = StatusSuccess
	r.CompletedAt = time.Now()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
}

func (r *Record) Fail(err error) {
	r.Status = StatusFailed
	r.CompletedAt = time.Now()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
	if err != nil {
		r.Error = err.Error()
	}
}

func (r *Record) MarkRolledBack() {
	r.Status = StatusRolledBack
	r.RolledBack = true
}
