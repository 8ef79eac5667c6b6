// Package costs supplies the fixed cost tables referenced by the Fleet
// Engine (§4.3) and Orphan Detector (§4.5), supplemented from
// original_source/src/azlin/costs/actions.py.
package costs

import "strings"

// DefaultHourlyRate is used when a SKU has no entry in the table (spec
// §4.3: "default $0.10/hr when unknown").
const DefaultHourlyRate = 0.10

// hourlyRates is the fixed internal SKU table the Fleet Engine consults
// for stop/start cost-delta estimates.
var hourlyRates = map[string]float64{
	"Standard_B1s":   0.0104,
	"Standard_B2s":   0.0416,
	"Standard_D2s_v5": 0.096,
	"Standard_D4s_v5": 0.192,
	"Standard_D8s_v5": 0.384,
	"Standard_E2s_v5": 0.126,
}

// HourlyRate returns the fixed hourly cost for sku, or DefaultHourlyRate
// when the SKU is unrecognized.
func HourlyRate(sku string) float64 {
	if rate, ok := hourlyRates[sku]; ok {
		return rate
	}
	return DefaultHourlyRate
}

// Disk monthly-cost-per-GB table (spec §4.5).
const (
	PremiumDiskPerGBMonth  = 0.1536
	StandardDiskPerGBMonth = 0.04
	SnapshotPerGBMonth     = 0.05
)

// DiskMonthlyCost estimates a disk's monthly cost from its tier and size.
func DiskMonthlyCost(tier string, sizeGB int) float64 {
	rate := StandardDiskPerGBMonth
	if strings.Contains(strings.ToLower(tier), "premium") {
		rate = PremiumDiskPerGBMonth
	}
	return rate * float64(sizeGB)
}

// SnapshotMonthlyCost estimates a snapshot's monthly cost from its size.
func SnapshotMonthlyCost(sizeGB int) float64 {
	return SnapshotPerGBMonth * float64(sizeGB)
}

// storageTierRates is the per-GB/month table for storage accounts, keyed
// by the account's redundancy/tier SKU name.
var storageTierRates = map[string]float64{
	"Standard_LRS": 0.0184,
	"Standard_GRS": 0.0368,
	"Premium_LRS":  0.15,
}

// StorageMonthlyCost estimates a storage account's monthly cost.
func StorageMonthlyCost(tier string, sizeGB int) float64 {
	rate, ok := storageTierRates[tier]
	if !ok {
		rate = storageTierRates["Standard_LRS"]
	}
	return rate * float64(sizeGB)
}

// BastionMonthlyEstimate is the flat estimate EnsureBastion (§4.6) shows
// alongside its CREATE choice.
const BastionMonthlyEstimate = 140.0
