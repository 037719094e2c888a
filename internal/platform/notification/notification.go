// Package notification persists user notifications, renders them from
// templates and pushes them through the configured channels.
package notification

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delivery states.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Template identifiers. A Message's Kind selects one of these.
const (
	KindAppointmentBooked    = "appointment-booked"
	KindAppointmentConfirmed = "appointment-confirmed"
	KindAppointmentCancelled = "appointment-cancelled"
	KindAppointmentCompleted = "appointment-completed"
	KindAppointmentNoShow    = "appointment-no-show"
	KindAppointmentReminder  = "appointment-reminder"
	KindPaymentCompleted     = "payment-completed"
	KindPaymentFailed        = "payment-failed"
)

// Notification is a stored message addressed to one user.
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"userId"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Status    string            `json:"status"`
	Read      bool              `json:"read"`
	Error     *string           `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	SentAt    *time.Time        `json:"sentAt,omitempty"`
}

// Message is a request to notify a user. Data fills the template placeholders
// and is stored alongside the rendered text.
type Message struct {
	UserID uuid.UUID
	Kind   string
	Data   map[string]string
}

// Recipient carries the addresses a user can be reached at.
type Recipient struct {
	UserID         uuid.UUID
	Name           string
	Email          string
	TelegramChatID *int64
}

// Template defines a reusable notification text.
type Template struct {
	ID    string
	Title string
	Body  string
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    KindAppointmentBooked,
			Title: "New appointment request",
			Body:  "{{patient}} requested an appointment on {{date}} at {{time}}. Reason: {{reason}}",
		},
		{
			ID:    KindAppointmentConfirmed,
			Title: "Appointment confirmed",
			Body:  "Your appointment with {{counterparty}} on {{date}} at {{time}} is confirmed.",
		},
		{
			ID:    KindAppointmentCancelled,
			Title: "Appointment cancelled",
			Body:  "Your appointment with {{counterparty}} on {{date}} at {{time}} was cancelled. Reason: {{reason}}",
		},
		{
			ID:    KindAppointmentCompleted,
			Title: "Appointment completed",
			Body:  "Your appointment with {{counterparty}} on {{date}} at {{time}} is marked as completed.",
		},
		{
			ID:    KindAppointmentNoShow,
			Title: "Missed appointment",
			Body:  "The appointment with {{counterparty}} on {{date}} at {{time}} was marked as a no-show.",
		},
		{
			ID:    KindAppointmentReminder,
			Title: "Appointment reminder",
			Body:  "Reminder: you have an appointment with {{doctor}} in {{lead}}, on {{date}} at {{time}}.",
		},
		{
			ID:    KindPaymentCompleted,
			Title: "Payment received",
			Body:  "Payment of {{amount}} {{currency}} for the appointment on {{date}} was received.",
		},
		{
			ID:    KindPaymentFailed,
			Title: "Payment failed",
			Body:  "Payment of {{amount}} {{currency}} for the appointment on {{date}} failed: {{reason}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	title = t.Title
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}
