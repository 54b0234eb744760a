// Package progression advances ready-made shop orders through packing,
// shipping and delivery without human action.
package progression

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

// Step is one automatic transition, due After the order was placed.
type Step struct {
	From  domain.OrderStatus
	To    domain.OrderStatus
	After time.Duration
}

type Profile struct {
	Steps []Step
}

type rawProfile struct {
	Steps []struct {
		From  string `yaml:"from"`
		To    string `yaml:"to"`
		After string `yaml:"after"`
	} `yaml:"steps"`
}

// DefaultProfile returns the built-in +3s/+6s/+9s timing.
func DefaultProfile() Profile {
	p, err := ParseProfile(defaultProfileYAML)
	if err != nil {
		panic(fmt.Sprintf("progression: embedded profile: %v", err))
	}
	return p
}

// LoadProfile reads a timing profile from path. An empty path yields the
// default profile.
func LoadProfile(path string) (Profile, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("progression: read %s: %w", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("progression: %s: %w", path, err)
	}
	return p, nil
}

// ParseProfile decodes and validates a YAML timing profile. The steps must
// chain from in_production and every edge must be one the auto-progressor
// is allowed to take.
func ParseProfile(data []byte) (Profile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Profile{}, fmt.Errorf("profile is empty")
	}
	var raw rawProfile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if len(raw.Steps) == 0 {
		return Profile{}, fmt.Errorf("profile has no steps")
	}

	p := Profile{Steps: make([]Step, 0, len(raw.Steps))}
	expected := domain.OrderStatusInProduction
	var last time.Duration
	for i, rs := range raw.Steps {
		from, err := domain.ParseOrderStatus(strings.TrimSpace(rs.From))
		if err != nil {
			return Profile{}, fmt.Errorf("step %d: %w", i, err)
		}
		to, err := domain.ParseOrderStatus(strings.TrimSpace(rs.To))
		if err != nil {
			return Profile{}, fmt.Errorf("step %d: %w", i, err)
		}
		after, err := time.ParseDuration(strings.TrimSpace(rs.After))
		if err != nil {
			return Profile{}, fmt.Errorf("step %d: invalid delay %q: %w", i, rs.After, err)
		}

		if from != expected {
			return Profile{}, fmt.Errorf("step %d: expected to start from %s, got %s", i, expected, from)
		}
		if err := fulfillment.ValidateTransition(from, to, domain.RoleSystem); err != nil {
			return Profile{}, fmt.Errorf("step %d: %w", i, err)
		}
		if after <= last {
			return Profile{}, fmt.Errorf("step %d: delay %s must be greater than %s", i, after, last)
		}

		p.Steps = append(p.Steps, Step{From: from, To: to, After: after})
		expected = to
		last = after
	}
	return p, nil
}

// Precedes reports whether status a comes strictly before b along the
// profile's chain. Statuses outside the chain precede nothing.
func (p Profile) Precedes(a, b domain.OrderStatus) bool {
	ra, okA := p.rank(a)
	rb, okB := p.rank(b)
	return okA && okB && ra < rb
}

func (p Profile) rank(status domain.OrderStatus) (int, bool) {
	for i, s := range p.Steps {
		if s.From == status {
			return i, true
		}
	}
	if n := len(p.Steps); n > 0 && p.Steps[n-1].To == status {
		return n, true
	}
	return 0, false
}
