package request

import (
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
)

func TestNew_Defaults(t *testing.T) {
	r, err := New(predicate.Predicate{}, "  malaria ", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Term() != "malaria" {
		t.Errorf("Term() = %q", r.Term())
	}
	if !r.HasTerm() {
		t.Error("HasTerm() = false")
	}
	if r.Limit() != DefaultLimit {
		t.Errorf("Limit() = %d, want %d", r.Limit(), DefaultLimit)
	}
	if !r.Predicate().IsEmpty() {
		t.Error("expected empty predicate")
	}
}

func TestNew_ClampsLimit(t *testing.T) {
	r, err := New(predicate.Predicate{}, "", 5, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Limit() != MaxLimit {
		t.Errorf("Limit() = %d, want %d", r.Limit(), MaxLimit)
	}
	if r.Window() != 5+MaxLimit {
		t.Errorf("Window() = %d", r.Window())
	}
	if r.HasTerm() {
		t.Error("blank term must not count as a search term")
	}
}

func TestNewWithLimits(t *testing.T) {
	r, err := NewWithLimits(predicate.Predicate{}, "", 0, 0, Limits{Default: 7, Max: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Limit() != 7 {
		t.Errorf("Limit() = %d, want 7", r.Limit())
	}
	r, _ = NewWithLimits(predicate.Predicate{}, "", 0, 50, Limits{Default: 7, Max: 9})
	if r.Limit() != 9 {
		t.Errorf("Limit() = %d, want 9", r.Limit())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		term   string
		offset int
	}{
		{"negative offset", "", -1},
		{"offset too large", "", MaxOffset + 1},
		{"term too long", strings.Repeat("a", MaxQueryLength+1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(predicate.Predicate{}, tt.term, tt.offset, 10)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
