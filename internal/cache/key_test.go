package cache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_ParameterOrderCanonical(t *testing.T) {
	a := url.Values{}
	a.Set("month", "2026-08")
	a.Set("category", "food")

	b := url.Values{}
	b.Set("category", "food")
	b.Set("month", "2026-08")

	assert.Equal(t, Key("/expenses", a), Key("/expenses", b),
		"logically identical requests must collide to the same key")
	assert.Equal(t, "/expenses?category=food&month=2026-08", Key("/expenses", a))
}

func TestKey_NoParams(t *testing.T) {
	assert.Equal(t, "/categories", Key("/categories", nil))
	assert.Equal(t, "/categories", Key("categories", url.Values{}))
	assert.Equal(t, "/categories", Key("/categories/", nil))
}

func TestResource(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/expenses", "expenses"},
		{"/expenses/42", "expenses"},
		{"/expenses?limit=10", "expenses"},
		{"/analytics/monthly?year=2026", "analytics"},
		{"categories", "categories"},
		{"/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Resource(tt.in), "Resource(%q)", tt.in)
	}
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "/expenses", KeyPrefix("expenses"))
	assert.Equal(t, "/expenses", KeyPrefix("/expenses/"))
}
