// Package remote defines the boundary to the managed backend service.
//
// The sync core talks to the remote relational store only through the
// Gateway interface. Rows cross the boundary as explicit DTOs and are
// converted immediately into the typed entities of internal/record; untyped
// payloads never travel past this package, except the medical-record body
// which is opaque by contract.
package remote

import (
	"context"
	"time"

	"github.com/trekmed/fieldsync/internal/record"
)

// MaxInFilterIDs is the hard ceiling on ids per `in` filter imposed by the
// remote query interface. Callers batching larger sets must chunk; Client
// rejects oversized filters outright.
const MaxInFilterIDs = 50

// Session identifies the authenticated user behind the gateway's
// credentials.
type Session struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the session carries the administrator role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == "admin"
}

// MedicalProfile is the derived set of medical fields a registration draft
// replays to the remote service, upserted keyed by user id.
type MedicalProfile struct {
	UserID            string              `json:"user_id"`
	Insurer           string              `json:"insurer,omitempty"`
	EmergencyContact1 string              `json:"emergency_contact_1,omitempty"`
	EmergencyPhone1   string              `json:"emergency_phone_1,omitempty"`
	EmergencyContact2 string              `json:"emergency_contact_2,omitempty"`
	EmergencyPhone2   string              `json:"emergency_phone_2,omitempty"`
	WeightKg          float64             `json:"weight_kg,omitempty"`
	HeightCm          float64             `json:"height_cm,omitempty"`
	BloodPressure     string              `json:"blood_pressure,omitempty"`
	Observations      string              `json:"observations,omitempty"`
	BloodType         string              `json:"blood_type,omitempty"`
	Allergies         string              `json:"allergies,omitempty"`
	Medications       []record.Medication `json:"medications,omitempty"`
	ConditionIDs      []int64             `json:"condition_ids,omitempty"`
	UpdatedAt         string              `json:"updated_at"`
}

// ProfileFromForm derives the remote medical-profile row from a
// registration form.
func ProfileFromForm(userID string, form record.RegistrationForm) MedicalProfile {
	return MedicalProfile{
		UserID:            userID,
		Insurer:           form.Insurer,
		EmergencyContact1: form.EmergencyContact1,
		EmergencyPhone1:   form.EmergencyPhone1,
		EmergencyContact2: form.EmergencyContact2,
		EmergencyPhone2:   form.EmergencyPhone2,
		WeightKg:          form.WeightKg,
		HeightCm:          form.HeightCm,
		BloodPressure:     form.BloodPressure,
		Observations:      form.Observations,
		BloodType:         form.BloodType,
		Allergies:         form.Allergies,
		Medications:       form.Medications,
		ConditionIDs:      form.ConditionIDs,
		UpdatedAt:         time.Now().UTC().Format(time.RFC3339),
	}
}

// Form converts a fetched profile back into registration-form fields, used
// to prefill a new registration with the user's known medical data.
func (p *MedicalProfile) Form() record.RegistrationForm {
	return record.RegistrationForm{
		Insurer:           p.Insurer,
		EmergencyContact1: p.EmergencyContact1,
		EmergencyPhone1:   p.EmergencyPhone1,
		EmergencyContact2: p.EmergencyContact2,
		EmergencyPhone2:   p.EmergencyPhone2,
		WeightKg:          p.WeightKg,
		HeightCm:          p.HeightCm,
		BloodPressure:     p.BloodPressure,
		Observations:      p.Observations,
		BloodType:         p.BloodType,
		Allergies:         p.Allergies,
		Medications:       p.Medications,
		ConditionIDs:      p.ConditionIDs,
	}
}

// EnrollmentInsert is the row created when a registration is submitted.
type EnrollmentInsert struct {
	TripID    string `json:"trip_id"`
	UserID    string `json:"user_id"`
	State     string `json:"state"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	Province  string `json:"province,omitempty"`
	Country   string `json:"country,omitempty"`
	Menu      string `json:"menu,omitempty"`
	CreatedAt string `json:"created_at"`
}

// IncidentReportUpsert is the wire row for a replayed incident report.
// UpdatedAt carries the draft's locally tracked timestamp in RFC 3339.
type IncidentReportUpsert struct {
	ID           string                `json:"id"`
	EnrollmentID string                `json:"enrollment_id"`
	Report       record.IncidentReport `json:"report"`
	UpdatedAt    string                `json:"updated_at"`
}

// Gateway is the narrow interface the sync core consumes.
//
// Implementations perform the actual network I/O; the core never retries or
// interprets transport details. Every call honors its context and returns a
// plain error on any remote failure, which the sync engine records
// per-record and never propagates to its own callers.
type Gateway interface {
	// Session returns the authenticated session, or nil when the gateway
	// holds no credentials.
	Session(ctx context.Context) (*Session, error)

	// Trips fetches all trips.
	Trips(ctx context.Context) ([]record.TripSnapshot, error)

	// Conditions fetches the condition catalog.
	Conditions(ctx context.Context) ([]record.ConditionCatalogEntry, error)

	// Enrollments fetches enrollments with their embedded profile
	// summaries and trip titles, scoped to one trip when tripID is
	// non-empty or unscoped when it is "".
	Enrollments(ctx context.Context, tripID string) ([]record.EnrollmentSnapshot, error)

	// EnrollmentExists reports whether the user already has an enrollment
	// for the trip. Used once per (trip, user) pair to suppress drafting.
	EnrollmentExists(ctx context.Context, tripID, userID string) (bool, error)

	// RegistrationDefaults fetches the remote-known form defaults for a
	// user: their medical-profile fields plus the address and menu choice
	// of their most recent enrollment. A user with no remote history gets
	// an empty form and no error.
	RegistrationDefaults(ctx context.Context, userID string) (record.RegistrationForm, error)

	// MedicalRecords fetches snapshots for up to MaxInFilterIDs users.
	// Larger id sets must be chunked by the caller.
	MedicalRecords(ctx context.Context, userIDs []string) ([]record.MedicalRecordSnapshot, error)

	// MedicalRecord fetches one user's snapshot. Returns (nil, nil) when
	// the user has no remote record.
	MedicalRecord(ctx context.Context, userID string) (*record.MedicalRecordSnapshot, error)

	// UpsertMedicalProfile writes the derived profile keyed by user id.
	UpsertMedicalProfile(ctx context.Context, profile MedicalProfile) error

	// InsertEnrollment creates the enrollment row for a submitted
	// registration.
	InsertEnrollment(ctx context.Context, enrollment EnrollmentInsert) error

	// UpsertIncidentReport writes a full report payload keyed by id.
	UpsertIncidentReport(ctx context.Context, report IncidentReportUpsert) error
}

// tripRow is the wire shape of a trip as returned by the remote service.
type tripRow struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	TotalSlots      int    `json:"total_slots"`
	AvailableSlots  int    `json:"available_slots"`
	MinParticipants int    `json:"min_participants"`
	State           string `json:"state"`
	Difficulty      string `json:"difficulty"`
	Location        string `json:"location"`
	CoverImageURL   string `json:"cover_image_url"`
	UpdatedAt       string `json:"updated_at"`
}

func (r *tripRow) toSnapshot() record.TripSnapshot {
	snap := record.TripSnapshot{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		TotalSlots:      r.TotalSlots,
		AvailableSlots:  r.AvailableSlots,
		MinParticipants: r.MinParticipants,
		State:           record.TripState(r.State),
		Difficulty:      r.Difficulty,
		Location:        r.Location,
		CoverImageURL:   r.CoverImageURL,
	}
	snap.StartDate = parseWireTime(r.StartDate)
	snap.EndDate = parseWireTime(r.EndDate)
	snap.UpdatedAt = parseWireTime(r.UpdatedAt)
	return snap
}

// enrollmentRow is the wire shape of an enrollment with its embedded
// profile summary and trip title.
type enrollmentRow struct {
	ID            string `json:"id"`
	TripID        string `json:"trip_id"`
	UserID        string `json:"user_id"`
	State         string `json:"state"`
	CreatedAt     string `json:"created_at"`
	Menu          string `json:"menu"`
	ReportCreated bool   `json:"report_created"`
	Profile       *struct {
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
	} `json:"profiles"`
	Trip *struct {
		Title string `json:"title"`
	} `json:"trips"`
}

func (r *enrollmentRow) toSnapshot() record.EnrollmentSnapshot {
	snap := record.EnrollmentSnapshot{
		ID:            r.ID,
		TripID:        r.TripID,
		UserID:        r.UserID,
		State:         record.EnrollmentState(r.State),
		Menu:          r.Menu,
		ReportCreated: r.ReportCreated,
	}
	if r.CreatedAt != "" {
		t := parseWireTime(r.CreatedAt)
		snap.CreatedAt = &t
	}
	if r.Profile != nil {
		snap.Profile = record.ProfileSummary{
			FullName: r.Profile.FullName,
			Phone:    r.Profile.Phone,
		}
	}
	if r.Trip != nil {
		snap.TripTitle = r.Trip.Title
	}
	return snap
}

func parseWireTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// Date-only values appear on trip rows.
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}
