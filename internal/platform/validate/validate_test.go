package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/medbook/medbook/internal/platform/apperr"
)

type sample struct {
	Status string   `json:"status" validate:"required,oneof=confirmed cancelled"`
	Slots  []string `json:"slots" validate:"dive,clock"`
	Count  int      `json:"count" validate:"gte=0,lte=10"`
}

func TestValidate_OK(t *testing.T) {
	v := New()
	if err := v.Validate(&sample{Status: "confirmed", Slots: []string{"08:00", "23:59"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	v := New()
	err := v.Validate(&sample{})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "status is required") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestValidate_Clock(t *testing.T) {
	v := New()
	err := v.Validate(&sample{Status: "cancelled", Slots: []string{"8:00"}})
	if err == nil {
		t.Fatal("expected error for malformed slot")
	}
	if !strings.Contains(err.Error(), "HH:MM") {
		t.Errorf("unexpected message %q", err.Error())
	}

	if err := v.Validate(&sample{Status: "cancelled", Slots: []string{"24:00"}}); err == nil {
		t.Fatal("expected error for 24:00")
	}
}

func TestText_StripsMarkup(t *testing.T) {
	got := Text("  <b>Back pain</b><script>alert(1)</script> ")
	if got != "Back pain" {
		t.Errorf("expected 'Back pain', got %q", got)
	}
}

func TestTextPtr(t *testing.T) {
	if TextPtr(nil) != nil {
		t.Error("expected nil for nil input")
	}
	empty := "<i></i>"
	if TextPtr(&empty) != nil {
		t.Error("expected nil for markup-only input")
	}
	s := "<p>schedule clash</p>"
	if got := TextPtr(&s); got == nil || *got != "schedule clash" {
		t.Errorf("unexpected %v", got)
	}
}
