package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fireshakti/noc-engine/internal/workflow"
)

// MemoryApplicationStore is a mutex-guarded in-memory workflow.ApplicationStore.
// Used by tests and by local mode when no database is configured.
type MemoryApplicationStore struct {
	mu   sync.Mutex
	apps map[string]*workflow.Application
}

// NewMemoryApplicationStore creates an empty in-memory application store.
func NewMemoryApplicationStore() *MemoryApplicationStore {
	return &MemoryApplicationStore{apps: make(map[string]*workflow.Application)}
}

func (s *MemoryApplicationStore) Create(_ context.Context, app *workflow.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *app
	s.apps[app.ID] = &copied
	return nil
}

func (s *MemoryApplicationStore) Get(_ context.Context, id string) (*workflow.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, nil
	}
	copied := *app
	return &copied, nil
}

func (s *MemoryApplicationStore) ListByOwner(_ context.Context, owner string) ([]*workflow.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*workflow.Application
	for _, app := range s.apps {
		if app.Owner == owner {
			copied := *app
			result = append(result, &copied)
		}
	}
	sortApplications(result)
	return result, nil
}

func (s *MemoryApplicationStore) ListByStatus(_ context.Context, status workflow.ApplicationStatus) ([]*workflow.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*workflow.Application
	for _, app := range s.apps {
		if app.Status == status {
			copied := *app
			result = append(result, &copied)
		}
	}
	sortApplications(result)
	return result, nil
}

func (s *MemoryApplicationStore) Update(_ context.Context, app *workflow.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.apps[app.ID]
	if !ok {
		return errNotFound("application", app.ID)
	}
	// Status is owned by TransitionStatus; preserve it.
	copied := *app
	copied.Status = stored.Status
	s.apps[app.ID] = &copied
	return nil
}

func (s *MemoryApplicationStore) TransitionStatus(_ context.Context, id string, from, to workflow.ApplicationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return false, nil
	}
	if app.Status != from {
		return false, nil
	}
	app.Status = to
	app.UpdatedAt = time.Now()
	return true, nil
}

// MemoryInspectionStore is a mutex-guarded in-memory workflow.InspectionStore.
type MemoryInspectionStore struct {
	mu          sync.Mutex
	inspections map[string]*workflow.Inspection
}

// NewMemoryInspectionStore creates an empty in-memory inspection store.
func NewMemoryInspectionStore() *MemoryInspectionStore {
	return &MemoryInspectionStore{inspections: make(map[string]*workflow.Inspection)}
}

func (s *MemoryInspectionStore) Create(_ context.Context, inspection *workflow.Inspection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *inspection
	s.inspections[inspection.ID] = &copied
	return nil
}

func (s *MemoryInspectionStore) Get(_ context.Context, id string) (*workflow.Inspection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inspection, ok := s.inspections[id]
	if !ok {
		return nil, nil
	}
	copied := *inspection
	return &copied, nil
}

func (s *MemoryInspectionStore) ListByApplication(_ context.Context, applicationID string) ([]*workflow.Inspection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*workflow.Inspection
	for _, inspection := range s.inspections {
		if inspection.ApplicationID == applicationID {
			copied := *inspection
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryInspectionStore) Update(_ context.Context, inspection *workflow.Inspection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inspections[inspection.ID]; !ok {
		return errNotFound("inspection", inspection.ID)
	}
	copied := *inspection
	s.inspections[inspection.ID] = &copied
	return nil
}

// MemoryCertificateStore is a mutex-guarded in-memory workflow.CertificateStore.
type MemoryCertificateStore struct {
	mu           sync.Mutex
	certificates map[string]*workflow.Certificate
}

// NewMemoryCertificateStore creates an empty in-memory certificate store.
func NewMemoryCertificateStore() *MemoryCertificateStore {
	return &MemoryCertificateStore{certificates: make(map[string]*workflow.Certificate)}
}

func (s *MemoryCertificateStore) Create(_ context.Context, certificate *workflow.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.certificates {
		if existing.ApplicationID == certificate.ApplicationID {
			return errConflict("certificate already exists for application " + certificate.ApplicationID)
		}
	}
	copied := *certificate
	s.certificates[certificate.ID] = &copied
	return nil
}

func (s *MemoryCertificateStore) GetByApplication(_ context.Context, applicationID string) (*workflow.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, certificate := range s.certificates {
		if certificate.ApplicationID == applicationID {
			copied := *certificate
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryCertificateStore) GetByNumber(_ context.Context, number string) (*workflow.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, certificate := range s.certificates {
		if certificate.Number == number {
			copied := *certificate
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryCertificateStore) Update(_ context.Context, certificate *workflow.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certificates[certificate.ID]; !ok {
		return errNotFound("certificate", certificate.ID)
	}
	copied := *certificate
	s.certificates[certificate.ID] = &copied
	return nil
}

func (s *MemoryCertificateStore) ListExpiredActive(_ context.Context, asOf time.Time) ([]*workflow.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*workflow.Certificate
	for _, certificate := range s.certificates {
		if certificate.Status == workflow.CertificateActive && certificate.ValidUntil.Before(asOf) {
			copied := *certificate
			result = append(result, &copied)
		}
	}
	return result, nil
}

func sortApplications(apps []*workflow.Application) {
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].CreatedAt.After(apps[j].CreatedAt)
	})
}

type storeError string

func (e storeError) Error() string { return string(e) }

func errNotFound(kind, id string) error {
	return storeError(kind + " not found: " + id)
}

func errConflict(msg string) error {
	return storeError(msg)
}
