package costs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHourlyRateFallsBackToDefault(t *testing.T) {
	assert.Equal(t, 0.096, HourlyRate("Standard_D2s_v5"))
	assert.Equal(t, DefaultHourlyRate, HourlyRate("Unknown_SKU"))
}

func TestDiskMonthlyCostByTier(t *testing.T) {
	assert.InDelta(t, 1.536, DiskMonthlyCost("Premium_LRS", 10), 0.0001)
	assert.InDelta(t, 0.4, DiskMonthlyCost("Standard_LRS", 10), 0.0001)
}
