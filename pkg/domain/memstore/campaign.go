package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/campaign"
	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// AppointmentStore is an in-memory implementation of pkg/campaign's
// AppointmentStore, backing both the reminder and no-show workflows.
type AppointmentStore struct {
	mu    sync.RWMutex
	appts map[string]map[string]*domain.Appointment // tenantID -> apptID -> appt
}

// NewAppointmentStore builds an empty AppointmentStore.
func NewAppointmentStore() *AppointmentStore {
	return &AppointmentStore{appts: make(map[string]map[string]*domain.Appointment)}
}

// Put inserts or replaces appt, keyed by its ID.
func (s *AppointmentStore) Put(appt *domain.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appts[appt.TenantID] == nil {
		s.appts[appt.TenantID] = make(map[string]*domain.Appointment)
	}
	s.appts[appt.TenantID][appt.ID] = appt
}

// ListInWindow returns every appointment for tenantID whose Start falls in
// [from, to]. The reminder workflow uses this for upcoming appointments;
// the no-show workflow reuses it with a past window. Only Start is
// filtered; the no-show workflow uses End just for its priority.
func (s *AppointmentStore) ListInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Appointment
	for _, a := range s.appts[tenantID] {
		if !a.Start.Before(from) && !a.Start.After(to) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// Get returns one appointment by id.
func (s *AppointmentStore) Get(ctx context.Context, tenantID, appointmentID string) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appts[tenantID][appointmentID]
	if !ok {
		return domain.Appointment{}, fmt.Errorf("appointment %q: %w", appointmentID, domain.ErrNotFound)
	}
	return *a, nil
}

// MarkConfirmed sets Confirmed=true on the given appointment.
func (s *AppointmentStore) MarkConfirmed(ctx context.Context, tenantID, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[tenantID][appointmentID]
	if !ok {
		return fmt.Errorf("appointment %q: %w", appointmentID, domain.ErrNotFound)
	}
	a.Confirmed = true
	return nil
}

var _ campaign.AppointmentStore = (*AppointmentStore)(nil)

// PatientStore is an in-memory implementation of pkg/campaign's
// PatientStore.
type PatientStore struct {
	mu       sync.RWMutex
	patients map[string]map[string]*domain.Patient // tenantID -> patientID -> patient
}

// NewPatientStore builds an empty PatientStore.
func NewPatientStore() *PatientStore {
	return &PatientStore{patients: make(map[string]map[string]*domain.Patient)}
}

// Put inserts or replaces p, keyed by its ID.
func (s *PatientStore) Put(p *domain.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patients[p.TenantID] == nil {
		s.patients[p.TenantID] = make(map[string]*domain.Patient)
	}
	s.patients[p.TenantID][p.ID] = p
}

// Get returns one patient by id.
func (s *PatientStore) Get(ctx context.Context, tenantID, patientID string) (domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[tenantID][patientID]
	if !ok {
		return domain.Patient{}, fmt.Errorf("patient %q: %w", patientID, domain.ErrNotFound)
	}
	return *p, nil
}

var _ campaign.PatientStore = (*PatientStore)(nil)

// RecallList is an in-memory implementation of pkg/campaign's RecallList,
// grounded on recall.py's RecallCampaign enrollment roster.
type RecallList struct {
	mu      sync.Mutex
	targets map[string]map[string]*campaign.RecallTarget // campaignID -> patientID -> target
}

// NewRecallList builds an empty RecallList.
func NewRecallList() *RecallList {
	return &RecallList{targets: make(map[string]map[string]*campaign.RecallTarget)}
}

// Enroll adds or replaces a patient's entry in campaignID's roster.
func (s *RecallList) Enroll(campaignID string, target campaign.RecallTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targets[campaignID] == nil {
		s.targets[campaignID] = make(map[string]*campaign.RecallTarget)
	}
	t := target
	s.targets[campaignID][target.PatientID] = &t
}

// PendingTargets returns campaignID's targets that are either never
// attempted or whose NextAttempt has elapsed, excluding anything already
// in a terminal status. An unknown campaign id is a NotFound error, which
// the control surface translates to its campaign-not-found failure mode.
func (s *RecallList) PendingTargets(ctx context.Context, tenantID, campaignID string, now time.Time) ([]campaign.RecallTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targets[campaignID] == nil {
		return nil, fmt.Errorf("campaign %q: %w", campaignID, domain.ErrNotFound)
	}
	var out []campaign.RecallTarget
	for _, t := range s.targets[campaignID] {
		switch t.Status {
		case domain.CampaignCompleted, domain.CampaignCancelled, domain.CampaignFailed:
			continue
		}
		if t.NextAttempt != nil && t.NextAttempt.After(now) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// UpdateTarget persists target's new state back into the roster.
func (s *RecallList) UpdateTarget(ctx context.Context, tenantID, campaignID string, target campaign.RecallTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targets[campaignID] == nil {
		return fmt.Errorf("campaign %q: %w", campaignID, domain.ErrNotFound)
	}
	t := target
	s.targets[campaignID][target.PatientID] = &t
	return nil
}

var _ campaign.RecallList = (*RecallList)(nil)
