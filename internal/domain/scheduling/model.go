package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

const (
	TypeInPerson         = "in_person"
	TypeTeleconsultation = "teleconsultation"
	TypeHomeVisit        = "home_visit"
)

const (
	DefaultDurationMinutes = 30
	MinDurationMinutes     = 5
	MaxDurationMinutes     = 480
)

var validTypes = map[string]bool{
	TypeInPerson: true, TypeTeleconsultation: true, TypeHomeVisit: true,
}

var validStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusCompleted: true,
	StatusCancelled: true, StatusNoShow: true,
}

// Appointment is one booking between a patient and a doctor.
type Appointment struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          uuid.UUID `json:"patientId"`
	DoctorID           uuid.UUID `json:"doctorId"`
	StartTime          time.Time `json:"appointmentDate"`
	Duration           int       `json:"duration"`
	EndTime            time.Time `json:"endTime"`
	Status             string    `json:"status"`
	Type               string    `json:"type"`
	Reason             string    `json:"reason"`
	CancellationReason *string   `json:"cancellationReason,omitempty"`
	RemindersSent      []int     `json:"remindersSent"` // lead minutes already dispatched
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (a *Appointment) End() time.Time {
	return a.StartTime.Add(time.Duration(a.Duration) * time.Minute)
}

// Overlaps reports whether the appointment shares any instant with
// [start, end). Touching intervals do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.End())
}

// Covers reports whether t falls within [start, end).
func (a *Appointment) Covers(t time.Time) bool {
	return !t.Before(a.StartTime) && t.Before(a.End())
}

// IsParticipant reports whether userID is the patient or the doctor.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return userID == a.PatientID || userID == a.DoctorID
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled || status == StatusNoShow
}

// IsActive reports statuses that hold the doctor's time.
func IsActive(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

// Acting sides in a transition. Participants act as the patient or the doctor
// of the appointment; admin and system act from outside.
const (
	sidePatient = "patient"
	sideDoctor  = "doctor"
	sideAdmin   = "admin"
	sideSystem  = "system"
)

// transitions maps from -> to -> sides allowed to trigger it. Admin may
// trigger every listed transition.
var transitions = map[string]map[string][]string{
	StatusPending: {
		StatusConfirmed: {sideDoctor, sideSystem},
		StatusCancelled: {sidePatient, sideDoctor},
		StatusNoShow:    {sideDoctor},
	},
	StatusConfirmed: {
		StatusCancelled: {sidePatient, sideDoctor},
		StatusCompleted: {sideDoctor},
		StatusNoShow:    {sideDoctor},
	},
}

// ListFilter narrows appointment listings. Nil fields match everything.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	From      *time.Time
	To        *time.Time
}

// Calendar is a doctor's declared availability for one date.
type Calendar struct {
	ID        uuid.UUID     `json:"id"`
	DoctorID  uuid.UUID     `json:"doctorId"`
	Date      string        `json:"date"`
	Slots     []string      `json:"slots"`
	Confirmed bool          `json:"confirmed"`
	Versions  []SlotVersion `json:"versions"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// SlotVersion is a slot set that was replaced by an edit.
type SlotVersion struct {
	Slots      []string   `json:"slots"`
	ReplacedAt time.Time  `json:"replacedAt"`
	ReplacedBy *uuid.UUID `json:"replacedBy,omitempty"`
}

// Availability is the slot view of one doctor's day.
type Availability struct {
	DoctorID       uuid.UUID `json:"doctorId"`
	Date           string    `json:"date"`
	Source         string    `json:"source"`
	AvailableSlots []string  `json:"availableSlots"`
	BookedSlots    []string  `json:"bookedSlots"`
}

const (
	SourceDefault  = "default"
	SourceCalendar = "calendar"
)
