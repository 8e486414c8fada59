package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasked(t *testing.T) {
	org := Organization{
		ID:           "org-1",
		ContactEmail: "outreach@example.org",
		ContactPhone: "+1 555 010 7788",
	}

	m := org.Masked()
	assert.Equal(t, "o*******@example.org", m.Email)
	assert.Equal(t, "+* *** *** **88", m.Phone)
}

func TestMaskedEdgeCases(t *testing.T) {
	empty := Organization{}
	assert.Equal(t, "", empty.Masked().Email)
	assert.Equal(t, "", empty.Masked().Phone)

	// too few digits to mask anything
	short := Organization{ContactPhone: "42"}
	assert.Equal(t, "42", short.Masked().Phone)

	noAt := Organization{ContactEmail: "not-an-email"}
	assert.Equal(t, "", noAt.Masked().Email)
}

func TestOrganizationJSONHidesContact(t *testing.T) {
	org := Organization{
		ID:           "org-1",
		Name:         "Northside Shelter",
		ContactEmail: "outreach@example.org",
		ContactPhone: "+1 555 010 7788",
		Address:      "12 Hill Road",
	}

	data, err := json.Marshal(org)
	require.NoError(t, err)

	s := string(data)
	assert.False(t, strings.Contains(s, "outreach@example.org"))
	assert.False(t, strings.Contains(s, "7788"))
	assert.False(t, strings.Contains(s, "Hill Road"))
	assert.True(t, strings.Contains(s, "Northside Shelter"))
}

func TestContact(t *testing.T) {
	org := Organization{
		ID:           "org-1",
		ContactEmail: "outreach@example.org",
		ContactPhone: "+1 555 010 7788",
		Address:      "12 Hill Road",
	}

	c := org.Contact()
	assert.Equal(t, "org-1", c.OrganizationID)
	assert.Equal(t, "outreach@example.org", c.Email)
	assert.Equal(t, "+1 555 010 7788", c.Phone)
	assert.Equal(t, "12 Hill Road", c.Address)
}
