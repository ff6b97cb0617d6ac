// Package memory provides table-style in-memory stores keyed by id.
// Entities reference each other by id only; there are no object cycles.
// Each store guards its table with an RWMutex; higher-level
// serialization (per prescription, per stock item) belongs to the
// engine and ledger.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/carebridge/medsafe/internal/domain/alert"
	"github.com/carebridge/medsafe/internal/domain/custody"
	"github.com/carebridge/medsafe/internal/domain/medication"
	"github.com/carebridge/medsafe/internal/domain/prescription"
	"github.com/carebridge/medsafe/internal/domain/schedule"
)

// PrescriptionStore is the in-memory prescription table.
type PrescriptionStore struct {
	mu   sync.RWMutex
	rows map[string]prescription.Prescription
}

// NewPrescriptionStore creates an empty prescription table.
func NewPrescriptionStore() *PrescriptionStore {
	return &PrescriptionStore{rows: make(map[string]prescription.Prescription)}
}

// Insert adds a new prescription row.
func (s *PrescriptionStore) Insert(ctx context.Context, p *prescription.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.ID] = *p
	return nil
}

// Get returns a copy of the stored row.
func (s *PrescriptionStore) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	return &row, nil
}

// Update persists p only if the stored version still equals readVersion.
func (s *PrescriptionStore) Update(ctx context.Context, p *prescription.Prescription, readVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[p.ID]
	if !ok {
		return prescription.ErrNotFound
	}
	if current.Version != readVersion {
		return prescription.ErrVersionConflict
	}
	s.rows[p.ID] = *p
	return nil
}

// ActiveByResident returns the resident's active prescriptions.
func (s *PrescriptionStore) ActiveByResident(ctx context.Context, residentID string) ([]*prescription.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*prescription.Prescription
	for _, row := range s.rows {
		if row.ResidentID == residentID && row.Status == prescription.StatusActive {
			copied := row
			out = append(out, &copied)
		}
	}
	return out, nil
}

// Active returns every active prescription, for background sweeps.
func (s *PrescriptionStore) Active(ctx context.Context) ([]*prescription.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*prescription.Prescription
	for _, row := range s.rows {
		if row.Status == prescription.StatusActive {
			copied := row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SlotStore is the in-memory administration slot table.
type SlotStore struct {
	mu             sync.RWMutex
	rows           map[string]schedule.Slot
	byPrescription map[string][]string
}

// NewSlotStore creates an empty slot table.
func NewSlotStore() *SlotStore {
	return &SlotStore{
		rows:           make(map[string]schedule.Slot),
		byPrescription: make(map[string][]string),
	}
}

// Insert adds slots; slots are generated, never deleted.
func (s *SlotStore) Insert(ctx context.Context, slots ...*schedule.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range slots {
		s.rows[slot.ID] = *slot
		s.byPrescription[slot.PrescriptionID] = append(s.byPrescription[slot.PrescriptionID], slot.ID)
	}
	return nil
}

// Get returns a copy of a slot row.
func (s *SlotStore) Get(ctx context.Context, id string) (*schedule.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, schedule.ErrSlotNotFound
	}
	return &row, nil
}

// ByPrescription returns the prescription's slots in scheduled order.
func (s *SlotStore) ByPrescription(ctx context.Context, prescriptionID string) ([]*schedule.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byPrescription[prescriptionID]
	out := make([]*schedule.Slot, 0, len(ids))
	for _, id := range ids {
		row := s.rows[id]
		out = append(out, &row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// Update replaces a slot row.
func (s *SlotStore) Update(ctx context.Context, slot *schedule.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[slot.ID]; !ok {
		return schedule.ErrSlotNotFound
	}
	s.rows[slot.ID] = *slot
	return nil
}

// CustodyStore is the in-memory append-only custody entry table.
type CustodyStore struct {
	mu   sync.RWMutex
	rows map[string][]*custody.Entry
}

// NewCustodyStore creates an empty custody table.
func NewCustodyStore() *CustodyStore {
	return &CustodyStore{rows: make(map[string][]*custody.Entry)}
}

// Append adds an entry to a stock item's chain.
func (s *CustodyStore) Append(ctx context.Context, e *custody.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *e
	s.rows[e.StockItemID] = append(s.rows[e.StockItemID], &copied)
	return nil
}

// Entries returns the stock item's entries in append order.
func (s *CustodyStore) Entries(ctx context.Context, stockItemID string) ([]*custody.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.rows[stockItemID]
	out := make([]*custody.Entry, len(chain))
	for i, e := range chain {
		copied := *e
		out[i] = &copied
	}
	return out, nil
}

// Last returns the chain head, or nil when the chain is empty.
func (s *CustodyStore) Last(ctx context.Context, stockItemID string) (*custody.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.rows[stockItemID]
	if len(chain) == 0 {
		return nil, nil
	}
	copied := *chain[len(chain)-1]
	return &copied, nil
}

// Corrupt overwrites a stored entry in place. Only tests use it, to
// simulate tampering that reconciliation must detect.
func (s *CustodyStore) Corrupt(stockItemID string, index int, mutate func(*custody.Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.rows[stockItemID]
	if index >= 0 && index < len(chain) {
		mutate(chain[index])
	}
}

// AlertStore is the in-memory alert table.
type AlertStore struct {
	mu   sync.RWMutex
	rows map[string]alert.Alert
}

// NewAlertStore creates an empty alert table.
func NewAlertStore() *AlertStore {
	return &AlertStore{rows: make(map[string]alert.Alert)}
}

// Insert adds an alert row.
func (s *AlertStore) Insert(ctx context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.ID] = *a
	return nil
}

// Get returns a copy of an alert row.
func (s *AlertStore) Get(ctx context.Context, id string) (*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, alert.ErrAlertNotFound
	}
	return &row, nil
}

// Update replaces an alert row.
func (s *AlertStore) Update(ctx context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID]; !ok {
		return alert.ErrAlertNotFound
	}
	s.rows[a.ID] = *a
	return nil
}

// Unacknowledged returns open alerts ordered by creation time.
func (s *AlertStore) Unacknowledged(ctx context.Context) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, row := range s.rows {
		if row.AcknowledgedAt == nil {
			copied := row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ResidentDirectory is the in-memory stand-in for the resident service
// collaborator: allergy and active-medication lists by resident id.
type ResidentDirectory struct {
	mu            sync.RWMutex
	medications   map[string]*medication.Record
	allergies     map[string][]medication.Allergy
	prescriptions *PrescriptionStore
}

// NewResidentDirectory creates a directory backed by the prescription
// table for active-medication lookups.
func NewResidentDirectory(prescriptions *PrescriptionStore) *ResidentDirectory {
	return &ResidentDirectory{
		medications:   make(map[string]*medication.Record),
		allergies:     make(map[string][]medication.Allergy),
		prescriptions: prescriptions,
	}
}

// PublishMedication registers a medication record. Records are
// immutable once published.
func (d *ResidentDirectory) PublishMedication(rec *medication.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.medications[rec.ID] = rec
}

// Medication returns a published record by id.
func (d *ResidentDirectory) Medication(id string) (*medication.Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.medications[id]
	return rec, ok
}

// RecordAllergy adds a resident allergy record.
func (d *ResidentDirectory) RecordAllergy(a medication.Allergy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allergies[a.ResidentID] = append(d.allergies[a.ResidentID], a)
}

// Allergies returns the resident's allergy records.
func (d *ResidentDirectory) Allergies(ctx context.Context, residentID string) ([]medication.Allergy, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]medication.Allergy(nil), d.allergies[residentID]...), nil
}

// ActiveMedications returns the medication records behind the
// resident's active prescriptions.
func (d *ResidentDirectory) ActiveMedications(ctx context.Context, residentID string) ([]*medication.Record, error) {
	active, err := d.prescriptions.ActiveByResident(ctx, residentID)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*medication.Record
	for _, rx := range active {
		if rec, ok := d.medications[rx.MedicationID]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
