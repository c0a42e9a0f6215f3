// Package record defines the strongly typed entities held by the local cache.
//
// Remote rows are converted into these types at the gateway boundary; nothing
// past that boundary handles loosely shaped payloads, with the single
// exception of the medical-record snapshot whose body is deliberately opaque.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TripState is the remote-owned lifecycle state of a trip.
type TripState string

const (
	TripPublished TripState = "published"
	TripConfirmed TripState = "confirmed"
	TripCancelled TripState = "cancelled"
	TripFinished  TripState = "finished"
)

// SyncStatus tracks a locally queued record through the replay lifecycle.
type SyncStatus string

const (
	// StatusPending marks a record waiting for its first (or next) replay.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks a record the remote service has accepted. Synced
	// records stay in the cache as read data but are excluded from replay.
	StatusSynced SyncStatus = "synced"
	// StatusError marks a registration draft whose last replay failed.
	// Error drafts are eligible for a retried replay.
	StatusError SyncStatus = "error"
)

// TripSnapshot is a locally cached copy of a remote trip row.
//
// Snapshots are replaced wholesale during a cache warm and never patched
// locally; the remote service is the sole writer of truth.
type TripSnapshot struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	TotalSlots      int       `json:"total_slots"`
	AvailableSlots  int       `json:"available_slots"`
	MinParticipants int       `json:"min_participants"`
	State           TripState `json:"state"`
	Difficulty      string    `json:"difficulty,omitempty"`
	Location        string    `json:"location,omitempty"`
	CoverImageURL   string    `json:"cover_image_url,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks the snapshot has the fields the cache requires.
func (t *TripSnapshot) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trip id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("trip title is required")
	}
	switch t.State {
	case TripPublished, TripConfirmed, TripCancelled, TripFinished:
	default:
		return fmt.Errorf("invalid trip state %q", t.State)
	}
	return nil
}

// Medication is a single entry in the registration form's medication list.
type Medication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
}

// RegistrationForm is the nested form payload of a registration draft.
//
// Empty string / zero / nil fields mean "not filled in"; the draft loader
// uses that to decide field-by-field whether a local value overrides a
// remote default.
type RegistrationForm struct {
	EmergencyContact1 string       `json:"emergency_contact_1,omitempty"`
	EmergencyPhone1   string       `json:"emergency_phone_1,omitempty"`
	EmergencyContact2 string       `json:"emergency_contact_2,omitempty"`
	EmergencyPhone2   string       `json:"emergency_phone_2,omitempty"`
	Insurer           string       `json:"insurer,omitempty"`
	WeightKg          float64      `json:"weight_kg,omitempty"`
	HeightCm          float64      `json:"height_cm,omitempty"`
	BloodPressure     string       `json:"blood_pressure,omitempty"`
	Observations      string       `json:"observations,omitempty"`
	BloodType         string       `json:"blood_type,omitempty"`
	Allergies         string       `json:"allergies,omitempty"`
	Medications       []Medication `json:"medications,omitempty"`
	ConditionIDs      []int64      `json:"condition_ids,omitempty"`
	Address           string       `json:"address,omitempty"`
	City              string       `json:"city,omitempty"`
	Province          string       `json:"province,omitempty"`
	Country           string       `json:"country,omitempty"`
	Menu              string       `json:"menu,omitempty"`
}

// Empty reports whether no field of the form has been filled in.
func (f *RegistrationForm) Empty() bool {
	return f.EmergencyContact1 == "" && f.EmergencyPhone1 == "" &&
		f.EmergencyContact2 == "" && f.EmergencyPhone2 == "" &&
		f.Insurer == "" && f.WeightKg == 0 && f.HeightCm == 0 &&
		f.BloodPressure == "" && f.Observations == "" &&
		f.BloodType == "" && f.Allergies == "" &&
		len(f.Medications) == 0 && len(f.ConditionIDs) == 0 &&
		f.Address == "" && f.City == "" && f.Province == "" &&
		f.Country == "" && f.Menu == ""
}

// Merge returns a copy of base with every populated field of override
// applied on top. Local drafts win per populated field; empty local fields
// fall back to the base value.
func (f RegistrationForm) Merge(override RegistrationForm) RegistrationForm {
	out := f
	if override.EmergencyContact1 != "" {
		out.EmergencyContact1 = override.EmergencyContact1
	}
	if override.EmergencyPhone1 != "" {
		out.EmergencyPhone1 = override.EmergencyPhone1
	}
	if override.EmergencyContact2 != "" {
		out.EmergencyContact2 = override.EmergencyContact2
	}
	if override.EmergencyPhone2 != "" {
		out.EmergencyPhone2 = override.EmergencyPhone2
	}
	if override.Insurer != "" {
		out.Insurer = override.Insurer
	}
	if override.WeightKg != 0 {
		out.WeightKg = override.WeightKg
	}
	if override.HeightCm != 0 {
		out.HeightCm = override.HeightCm
	}
	if override.BloodPressure != "" {
		out.BloodPressure = override.BloodPressure
	}
	if override.Observations != "" {
		out.Observations = override.Observations
	}
	if override.BloodType != "" {
		out.BloodType = override.BloodType
	}
	if override.Allergies != "" {
		out.Allergies = override.Allergies
	}
	if len(override.Medications) > 0 {
		out.Medications = override.Medications
	}
	if len(override.ConditionIDs) > 0 {
		out.ConditionIDs = override.ConditionIDs
	}
	if override.Address != "" {
		out.Address = override.Address
	}
	if override.City != "" {
		out.City = override.City
	}
	if override.Province != "" {
		out.Province = override.Province
	}
	if override.Country != "" {
		out.Country = override.Country
	}
	if override.Menu != "" {
		out.Menu = override.Menu
	}
	return out
}

// RegistrationDraft is a locally queued trip registration.
//
// Exactly one non-synced draft may exist per (trip, user) pair; the draft
// persister enforces this by updating in place rather than inserting.
type RegistrationDraft struct {
	ID          string           `json:"id"`
	TripID      string           `json:"trip_id"`
	UserID      string           `json:"user_id"`
	Status      SyncStatus       `json:"status"`
	Form        RegistrationForm `json:"form"`
	CreatedAt   time.Time        `json:"created_at"`
	LastAttempt *time.Time       `json:"last_attempt,omitempty"`
}

// Validate checks identifiers and status before the draft touches the store.
func (d *RegistrationDraft) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("draft id is required")
	}
	if err := ValidateID(d.TripID); err != nil {
		return fmt.Errorf("trip id: %w", err)
	}
	if d.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	switch d.Status {
	case StatusPending, StatusSynced, StatusError:
	default:
		return fmt.Errorf("invalid draft status %q", d.Status)
	}
	return nil
}

// ConditionCatalogEntry is read-only reference data mapping a condition id
// to its label. Never mutated locally.
type ConditionCatalogEntry struct {
	ID          int64  `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// EnrollmentState is the remote-owned state of an enrollment.
type EnrollmentState string

const (
	EnrollmentPending   EnrollmentState = "pending"
	EnrollmentConfirmed EnrollmentState = "confirmed"
)

// ProfileSummary is the embedded participant summary carried on an
// enrollment row so the guide can identify hikers offline.
type ProfileSummary struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
}

// EnrollmentSnapshot is a locally cached enrollment row.
//
// Snapshots are replaced wholesale per warm scope; state changes happen
// remotely and are re-pulled, never written locally.
type EnrollmentSnapshot struct {
	ID            string          `json:"id"`
	TripID        string          `json:"trip_id"`
	UserID        string          `json:"user_id"`
	State         EnrollmentState `json:"state"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
	Menu          string          `json:"menu,omitempty"`
	Profile       ProfileSummary  `json:"profile"`
	TripTitle     string          `json:"trip_title,omitempty"`
	ReportCreated bool            `json:"report_created"`
}

// Validate checks the snapshot carries the keys the cache indexes on.
func (e *EnrollmentSnapshot) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("enrollment id is required")
	}
	if e.TripID == "" {
		return fmt.Errorf("enrollment trip id is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("enrollment user id is required")
	}
	return nil
}

// MedicalRecordSnapshot maps a user to the latest known medical-profile
// payload. The payload is passed through opaque from the remote service;
// it is treated as valid until the next overwrite, with no TTL.
type MedicalRecordSnapshot struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// VitalSigns is one timed reading inside an incident report.
type VitalSigns struct {
	TakenAt          time.Time `json:"taken_at"`
	HeartRate        int       `json:"heart_rate,omitempty"`
	RespiratoryRate  int       `json:"respiratory_rate,omitempty"`
	BloodPressure    string    `json:"blood_pressure,omitempty"`
	Temperature      float64   `json:"temperature,omitempty"`
	OxygenSaturation int       `json:"oxygen_saturation,omitempty"`
	Consciousness    string    `json:"consciousness,omitempty"`
}

// IncidentReport is the structured body of an incident-report draft,
// following the SOAP (subjective, objective, assessment/plan) layout used
// by field responders.
type IncidentReport struct {
	Scene          string       `json:"scene,omitempty"`
	Subjective     string       `json:"subjective,omitempty"`
	Objective      string       `json:"objective,omitempty"`
	AssessmentPlan string       `json:"assessment_plan,omitempty"`
	Vitals         []VitalSigns `json:"vitals,omitempty"`
}

// IncidentReportDraft is a locally queued incident report.
//
// Unlike registration drafts there is no error sub-state: a failed replay
// leaves the draft pending and retry continues indefinitely.
type IncidentReportDraft struct {
	ID           string         `json:"id"`
	EnrollmentID string         `json:"enrollment_id"`
	Status       SyncStatus     `json:"status"`
	Report       IncidentReport `json:"report"`
	// UpdatedAt is tracked locally as unix milliseconds and converted to
	// the RFC 3339 wire format on upsert.
	UpdatedAt int64 `json:"updated_at"`
}

// Validate checks identifiers and status before the draft touches the store.
func (d *IncidentReportDraft) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("report id is required")
	}
	if d.EnrollmentID == "" {
		return fmt.Errorf("enrollment id is required")
	}
	switch d.Status {
	case StatusPending, StatusSynced:
	default:
		return fmt.Errorf("invalid report status %q", d.Status)
	}
	return nil
}

// UpdatedTime returns the draft's last-updated timestamp as a time.Time.
func (d *IncidentReportDraft) UpdatedTime() time.Time {
	return time.UnixMilli(d.UpdatedAt)
}

// Touch stamps the draft with the current time.
func (d *IncidentReportDraft) Touch() {
	d.UpdatedAt = time.Now().UnixMilli()
}

// NewID generates a new local identifier for queued records.
func NewID() string {
	return uuid.NewString()
}

// ValidateID rejects identifiers that are not well-formed UUIDs before they
// ever reach the local store or the remote service.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("malformed id %q: %w", id, err)
	}
	return nil
}
