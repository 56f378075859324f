//go:build unit

package config

import "testing"

func TestToProtocolConfigCarriesVendorWorkaround(t *testing.T) {
	cfg := &Config{
		UpgradeTime:         42,
		AllowSleepyDevices:  true,
		ExtraNoAckStatus:    0xAB,
		VendorWDTReset:      true,
		VendorManufacturer:  0x1001,
		VendorImageType:     0x02,
		VendorWDTResetDelay: 7,
	}
	pc := cfg.ToProtocolConfig()

	if pc.UpgradeTime != 42 {
		t.Errorf("UpgradeTime = %d, expected 42", pc.UpgradeTime)
	}
	if !pc.AllowSleepyDevices {
		t.Error("expected AllowSleepyDevices to carry through")
	}
	if !pc.VendorWDTReset || pc.VendorManufacturer != 0x1001 || pc.VendorImageType != 0x02 {
		t.Error("expected vendor WDT-reset workaround fields to carry through")
	}
}
