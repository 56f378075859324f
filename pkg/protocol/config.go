package protocol

// Config carries the operator-tunable and feature-flagged behavior the
// Engine needs beyond the wire protocol itself.
type Config struct {
	// UpgradeTime is sent in UpgradeEndResponse.upgradeTime on a
	// successful UpgradeEndRequest. Default 5s per spec.md §4.4.4;
	// IndefiniteUpgradeTime (0xFFFFFFFF) means "wait indefinitely".
	UpgradeTime uint32

	// AllowSleepyDevices opts non-rx-on-when-idle clients into receiving
	// PermitUpdate=true. Off by default: spec.md §4.4.1 requires explicit
	// operator opt-in for sleeping devices.
	AllowSleepyDevices bool

	// AbortFallbackManufacturers lists manufacturer codes that must
	// receive ABORT rather than NO_IMAGE_AVAILABLE when no image is
	// available (spec.md §4.4.1 rule 5).
	AbortFallbackManufacturers map[uint16]bool

	// PayloadBugManufacturers lists manufacturers whose clients mishandle
	// ASDU payloads above PayloadBugClipSize (spec.md §4.4.2).
	PayloadBugManufacturers map[uint16]bool

	// ExtraNoAckStatus lets an operator add a third APS confirm status
	// code to be treated as no-ack, beyond the two (0xA7, 0xE5) already
	// observed in the field (see DESIGN.md's Open Question decision).
	// Zero means none configured.
	ExtraNoAckStatus uint8

	// VendorWDTReset enables the VENDOR_DDEL+IMG_TYPE_FLS_NB watchdog
	// reset workaround on UpgradeEndRequest: upgradeTime=0xFFFF and a log
	// line with VendorWDTResetDelay. Off by default (see DESIGN.md). When
	// enabled, VendorManufacturer/VendorImageType name the combination
	// that triggers it. The private-cluster-0xFC00 follow-up command is not
	// sent by the Engine on its own; see Engine.SendVendorWDTReset.
	VendorWDTReset      bool
	VendorManufacturer  uint16
	VendorImageType     uint16
	VendorWDTResetDelay uint32 // seconds
}

// DefaultConfig returns the spec.md defaults with all feature flags off.
func DefaultConfig() Config {
	return Config{
		UpgradeTime:                DefaultUpgradeTime,
		AbortFallbackManufacturers: map[uint16]bool{},
		PayloadBugManufacturers:    map[uint16]bool{},
		VendorWDTResetDelay:        3,
	}
}

func (cfg Config) isNoAck(status uint8) bool {
	if NoAckStatuses[status] {
		return true
	}
	return cfg.ExtraNoAckStatus != 0 && status == cfg.ExtraNoAckStatus
}
