package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "Jose Pena", Fold("José Peña"))
	assert.Equal(t, "Zoe", Fold("Zoë"))
	assert.Equal(t, "plain", Fold("plain"))
}

func TestHeader(t *testing.T) {
	tests := map[string]string{
		"First Name":     "firstname",
		"first_name":     "firstname",
		"FIRST-NAME":     "firstname",
		"  E-mail ":      "email",
		"Téléphone":      "telephone",
		"Zip Code (5)":   "zipcode5",
		"":               "",
		"Donor #":        "donor",
		"Address Line 1": "addressline1",
	}
	for in, want := range tests {
		assert.Equal(t, want, Header(in), in)
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "mary ann obrien", Name("  Mary-Ann  O'Brien "))
	assert.Equal(t, "jose pena", Name("José Peña"))
	assert.Equal(t, "jr smith", Name("Jr. Smith"))
	assert.Equal(t, "", Name("   "))
}

func TestEmail(t *testing.T) {
	assert.Equal(t, "maria@example.org", Email("  Maria@Example.ORG "))
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, "jose|pena", NameKey("José", " Peña"))
	assert.Equal(t, "", NameKey("Cher", ""))
}
