package persistence_test

import (
	"testing"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStampVersion(t *testing.T) {
	tests := []struct {
		name       string
		newest     *models.FlowVersion
		checksum   string
		wantStored bool
		wantNumber int
	}{
		{name: "first snapshot", checksum: "a", wantStored: true, wantNumber: 1},
		{name: "changed content", newest: &models.FlowVersion{Number: 4, Checksum: "a"}, checksum: "b", wantStored: true, wantNumber: 5},
		{name: "same content", newest: &models.FlowVersion{Number: 4, Checksum: "a"}, checksum: "a", wantStored: false},
		{name: "no checksum always stores", newest: &models.FlowVersion{Number: 2}, wantStored: true, wantNumber: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version := &models.FlowVersion{FlowID: "f", Checksum: tt.checksum}

			assert.Equal(t, tt.wantStored, persistence.StampVersion(version, tt.newest))
			assert.Equal(t, tt.wantNumber, version.Number)

			if tt.wantStored {
				assert.NotEmpty(t, version.ID)
				assert.False(t, version.CreatedAt.IsZero())
			}
		})
	}
}
