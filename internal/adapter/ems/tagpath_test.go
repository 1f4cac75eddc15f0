package ems

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTagPath(t *testing.T) {
	raw := `[
		{"type":"Region","parentType":"Community","name":"KSA","topic":"ksa"},
		{"type":"City","parentType":"SiteGroup","name":"Riyadh","topic":"riyadh"},
		{"type":"CommercialTower","parentType":"City","name":"Mall Branch","topic":"site-42"},
		{"type":"Floor","parentType":"CommercialTower","name":"GF","topic":"gf"}
	]`

	info := ParseTagPath(raw)
	assert.Equal(t, "site-42", info.SiteID)
	assert.Equal(t, "Mall Branch", info.SiteName)
	assert.Equal(t, "KSA", info.Country)
	assert.Equal(t, "Riyadh", info.State)
}

func TestParseTagPathFirstTowerWins(t *testing.T) {
	raw := `[
		{"type":"CommercialTower","name":"First","topic":"site-1"},
		{"type":"CommercialTower","name":"Second","topic":"site-2"}
	]`

	info := ParseTagPath(raw)
	assert.Equal(t, "site-1", info.SiteID)
	assert.Equal(t, "First", info.SiteName)
}

func TestParseTagPathMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json", "{}", `{"type":"x"}`} {
		info := ParseTagPath(raw)
		assert.Zero(t, info, "input %q", raw)
	}
}
