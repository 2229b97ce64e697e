package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runlayer/coordinator/internal/models"
)

func TestSignature_StableUnderSourceReordering(t *testing.T) {
	a := []models.ToolSource{
		{SourceID: "s1", UpdatedAt: 1, Enabled: true},
		{SourceID: "s2", UpdatedAt: 2, Enabled: true},
	}
	b := []models.ToolSource{
		{SourceID: "s2", UpdatedAt: 2, Enabled: true},
		{SourceID: "s1", UpdatedAt: 1, Enabled: true},
	}
	assert.Equal(t, Signature("ws1", a), Signature("ws1", b))
}

func TestSignature_ChangesWithUpdatedAtOrEnabled(t *testing.T) {
	base := []models.ToolSource{{SourceID: "s1", UpdatedAt: 1, Enabled: true}}
	touched := []models.ToolSource{{SourceID: "s1", UpdatedAt: 2, Enabled: true}}
	disabled := []models.ToolSource{{SourceID: "s1", UpdatedAt: 1, Enabled: false}}

	sig := Signature("ws1", base)
	assert.NotEqual(t, sig, Signature("ws1", touched))
	assert.NotEqual(t, sig, Signature("ws1", disabled))
}

func TestSignature_DiffersAcrossWorkspaces(t *testing.T) {
	sources := []models.ToolSource{{SourceID: "s1", UpdatedAt: 1, Enabled: true}}
	assert.NotEqual(t, Signature("ws1", sources), Signature("ws2", sources))
}
