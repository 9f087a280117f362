package cache

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so policy files can use "5m" notation.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// TTL holds the freshness thresholds for a resource. An entry younger than
// Fresh is served without a network call; between Fresh and Stale it is
// served while a background refresh may run; past Stale it is a miss.
type TTL struct {
	Fresh Duration `yaml:"fresh"`
	Stale Duration `yaml:"stale"`
}

// Policy is the explicit, reviewable cache policy: which cache-key
// prefixes a mutation invalidates, which resources are eligible for
// stale-while-revalidate, and per-resource freshness thresholds.
type Policy struct {
	// Rules maps a mutated resource to the resources whose cached entries
	// must be dropped after a successful mutation. Resources without a
	// rule invalidate only themselves.
	Rules map[string][]string `yaml:"rules"`

	// Revalidate lists resources eligible for background refresh when a
	// stale entry is served.
	Revalidate []string `yaml:"revalidate"`

	// TTLs overrides freshness thresholds per resource.
	TTLs map[string]TTL `yaml:"ttls"`

	// DefaultTTL applies to resources without an override.
	DefaultTTL TTL `yaml:"default_ttl"`

	revalidate map[string]struct{}
}

// DefaultPolicy returns the built-in policy for the finly backend.
// Expense mutations ripple into categories, analytics and budgets because
// those resources display totals derived from expense data.
func DefaultPolicy() *Policy {
	p := &Policy{
		Rules: map[string][]string{
			"expenses":   {"expenses", "categories", "analytics", "budgets"},
			"categories": {"categories", "expenses", "analytics"},
			"budgets":    {"budgets", "analytics"},
			"profile":    {"profile"},
		},
		Revalidate: []string{"categories", "analytics", "budgets", "profile"},
		TTLs: map[string]TTL{
			"analytics": {Fresh: Duration(2 * time.Minute), Stale: Duration(15 * time.Minute)},
		},
		DefaultTTL: TTL{Fresh: Duration(5 * time.Minute), Stale: Duration(30 * time.Minute)},
	}
	p.index()
	return p
}

// LoadPolicy reads a YAML policy. Sections omitted from the file fall back
// to the defaults, so a policy file only needs to state its deviations.
func LoadPolicy(r io.Reader) (*Policy, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}

	defaults := DefaultPolicy()
	if p.Rules == nil {
		p.Rules = defaults.Rules
	}
	if p.Revalidate == nil {
		p.Revalidate = defaults.Revalidate
	}
	if p.TTLs == nil {
		p.TTLs = defaults.TTLs
	}
	if p.DefaultTTL == (TTL{}) {
		p.DefaultTTL = defaults.DefaultTTL
	}
	p.index()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &p, nil
}

// Validate checks the freshness invariant fresh <= stale for every TTL.
func (p *Policy) Validate() error {
	check := func(name string, ttl TTL) error {
		if ttl.Fresh <= 0 || ttl.Stale <= 0 {
			return fmt.Errorf("ttl for %s must be positive", name)
		}
		if ttl.Fresh > ttl.Stale {
			return fmt.Errorf("ttl for %s: fresh (%s) exceeds stale (%s)",
				name, time.Duration(ttl.Fresh), time.Duration(ttl.Stale))
		}
		return nil
	}

	if err := check("default", p.DefaultTTL); err != nil {
		return err
	}
	for resource, ttl := range p.TTLs {
		if err := check(resource, ttl); err != nil {
			return err
		}
	}
	return nil
}

// InvalidationTargets returns the resources to drop after a successful
// mutation on the given resource.
func (p *Policy) InvalidationTargets(resource string) []string {
	if targets, ok := p.Rules[resource]; ok {
		return targets
	}
	return []string{resource}
}

// Revalidates reports whether a resource is eligible for background
// refresh when served stale.
func (p *Policy) Revalidates(resource string) bool {
	_, ok := p.revalidate[resource]
	return ok
}

// TTLFor returns the freshness thresholds for a resource.
func (p *Policy) TTLFor(resource string) (fresh, stale time.Duration) {
	ttl, ok := p.TTLs[resource]
	if !ok {
		ttl = p.DefaultTTL
	}
	return time.Duration(ttl.Fresh), time.Duration(ttl.Stale)
}

// MaxStale returns the largest stale threshold across the policy, used as
// the eviction bound for the in-memory layer.
func (p *Policy) MaxStale() time.Duration {
	max := time.Duration(p.DefaultTTL.Stale)
	for _, ttl := range p.TTLs {
		if d := time.Duration(ttl.Stale); d > max {
			max = d
		}
	}
	return max
}

func (p *Policy) index() {
	p.revalidate = make(map[string]struct{}, len(p.Revalidate))
	for _, r := range p.Revalidate {
		p.revalidate[r] = struct{}{}
	}
}
