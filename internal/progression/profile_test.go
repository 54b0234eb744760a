package progression_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/progression"
)

func TestDefaultProfile(t *testing.T) {
	p := progression.DefaultProfile()

	want := []progression.Step{
		{From: domain.OrderStatusInProduction, To: domain.OrderStatusCompleted, After: 3 * time.Second},
		{From: domain.OrderStatusCompleted, To: domain.OrderStatusShipped, After: 6 * time.Second},
		{From: domain.OrderStatusShipped, To: domain.OrderStatusDelivered, After: 9 * time.Second},
	}
	if len(p.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(p.Steps))
	}
	for i := range want {
		if p.Steps[i] != want[i] {
			t.Errorf("step %d: expected %+v, got %+v", i, want[i], p.Steps[i])
		}
	}
}

func TestParseProfile_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "", "empty"},
		{"no steps", "steps: []", "no steps"},
		{"legacy vocabulary", "steps:\n  - {from: in_production, to: Completed, after: 3s}", "unknown order status"},
		{"bad delay", "steps:\n  - {from: in_production, to: completed, after: soon}", "invalid delay"},
		{"wrong start", "steps:\n  - {from: completed, to: shipped, after: 3s}", "expected to start from in_production"},
		{"broken chain", "steps:\n  - {from: in_production, to: completed, after: 3s}\n  - {from: shipped, to: delivered, after: 6s}", "expected to start from completed"},
		{"edge not open to system", "steps:\n  - {from: in_production, to: ready_for_review, after: 3s}", "not permitted"},
		{"delays must grow", "steps:\n  - {from: in_production, to: completed, after: 3s}\n  - {from: completed, to: shipped, after: 3s}", "must be greater"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := progression.ParseProfile([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadProfile(t *testing.T) {
	t.Run("empty path uses default", func(t *testing.T) {
		p, err := progression.LoadProfile("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(p.Steps) != 3 {
			t.Errorf("expected default profile, got %d steps", len(p.Steps))
		}
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile.yaml")
		data := "steps:\n  - {from: in_production, to: completed, after: 1h}\n  - {from: completed, to: shipped, after: 24h}\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("failed to write profile: %v", err)
		}

		p, err := progression.LoadProfile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(p.Steps) != 2 || p.Steps[1].After != 24*time.Hour {
			t.Errorf("unexpected profile: %+v", p)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := progression.LoadProfile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestProfile_Precedes(t *testing.T) {
	p := progression.DefaultProfile()

	tests := []struct {
		name string
		a, b domain.OrderStatus
		want bool
	}{
		{"start before first target", domain.OrderStatusInProduction, domain.OrderStatusCompleted, true},
		{"start before last step", domain.OrderStatusInProduction, domain.OrderStatusShipped, true},
		{"middle before end", domain.OrderStatusCompleted, domain.OrderStatusDelivered, true},
		{"same status", domain.OrderStatusCompleted, domain.OrderStatusCompleted, false},
		{"ahead", domain.OrderStatusShipped, domain.OrderStatusCompleted, false},
		{"cancelled is off the chain", domain.OrderStatusCancelled, domain.OrderStatusShipped, false},
		{"pending is off the chain", domain.OrderStatusPending, domain.OrderStatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Precedes(tt.a, tt.b); got != tt.want {
				t.Errorf("Precedes(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
