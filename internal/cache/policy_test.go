package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	assert.ElementsMatch(t,
		[]string{"expenses", "categories", "analytics", "budgets"},
		p.InvalidationTargets("expenses"))

	// Resources without a rule invalidate only themselves.
	assert.Equal(t, []string{"settings"}, p.InvalidationTargets("settings"))

	assert.True(t, p.Revalidates("categories"))
	assert.False(t, p.Revalidates("expenses"))

	fresh, stale := p.TTLFor("analytics")
	assert.Equal(t, 2*time.Minute, fresh)
	assert.Equal(t, 15*time.Minute, stale)

	fresh, stale = p.TTLFor("expenses")
	assert.Equal(t, 5*time.Minute, fresh)
	assert.Equal(t, 30*time.Minute, stale)
}

func TestLoadPolicy(t *testing.T) {
	src := `
rules:
  expenses: [expenses, analytics]
revalidate: [analytics]
ttls:
  expenses:
    fresh: 30s
    stale: 10m
default_ttl:
  fresh: 1m
  stale: 5m
`
	p, err := LoadPolicy(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"expenses", "analytics"}, p.InvalidationTargets("expenses"))
	assert.True(t, p.Revalidates("analytics"))
	assert.False(t, p.Revalidates("categories"))

	fresh, stale := p.TTLFor("expenses")
	assert.Equal(t, 30*time.Second, fresh)
	assert.Equal(t, 10*time.Minute, stale)

	fresh, stale = p.TTLFor("budgets")
	assert.Equal(t, time.Minute, fresh)
	assert.Equal(t, 5*time.Minute, stale)
}

func TestLoadPolicy_OmittedSectionsFallBackToDefaults(t *testing.T) {
	p, err := LoadPolicy(strings.NewReader(`revalidate: [profile]`))
	require.NoError(t, err)

	assert.True(t, p.Revalidates("profile"))
	assert.False(t, p.Revalidates("categories"))
	assert.ElementsMatch(t,
		[]string{"expenses", "categories", "analytics", "budgets"},
		p.InvalidationTargets("expenses"))
}

func TestLoadPolicy_FreshExceedingStaleRejected(t *testing.T) {
	src := `
default_ttl:
  fresh: 10m
  stale: 1m
`
	_, err := LoadPolicy(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fresh")
}

func TestLoadPolicy_BadDuration(t *testing.T) {
	src := `
default_ttl:
  fresh: soon
  stale: 5m
`
	_, err := LoadPolicy(strings.NewReader(src))
	require.Error(t, err)
}

func TestMaxStale(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 30*time.Minute, p.MaxStale())

	p.TTLs["archive"] = TTL{Fresh: Duration(time.Hour), Stale: Duration(2 * time.Hour)}
	assert.Equal(t, 2*time.Hour, p.MaxStale())
}
