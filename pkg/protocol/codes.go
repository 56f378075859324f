package protocol

import "time"

// CleanupDelay guards dormant client records (spec.md §4.7/§5).
const CleanupDelay = 4 * time.Hour

// Command ids on ZigBee cluster 0x0019, per spec.md §6.
const (
	CmdImageNotify       uint8 = 0x00
	CmdQueryNextImageReq uint8 = 0x01
	CmdQueryNextImageRsp uint8 = 0x02
	CmdImageBlockReq     uint8 = 0x03
	CmdImagePageReq      uint8 = 0x04
	CmdImageBlockRsp     uint8 = 0x05
	CmdUpgradeEndReq     uint8 = 0x06
	CmdUpgradeEndRsp     uint8 = 0x07
)

// DefaultResponseCommandID is the ZCL global "Default Response" command,
// used for the bogus-UpgradeEnd workaround (§4.4.4) and for acknowledging
// a non-SUCCESS UpgradeEndRequest.
const DefaultResponseCommandID uint8 = 0x0B

// ClusterID is the OTA cluster, 0x0019.
const ClusterID uint16 = 0x0019

// Status codes, per spec.md §6.
const (
	StatusSuccess          uint8 = 0x00
	StatusNotAuthorized    uint8 = 0x7E
	StatusMalformedCommand uint8 = 0x80
	StatusUnsupported      uint8 = 0x81
	StatusAbort            uint8 = 0x95
	StatusInvalidImage     uint8 = 0x96
	StatusWaitForData      uint8 = 0x97
	StatusNoImageAvailable uint8 = 0x98
	StatusRequireMoreImage uint8 = 0x99
)

// FileVersionWildcard substitutes the selected image's own file version
// when an ImageBlockRequest carries it (spec.md §4.4.2).
const FileVersionWildcard uint32 = 0xFFFFFFFF

// IndefiniteUpgradeTime means "wait indefinitely" in an UpgradeEndResponse.
const IndefiniteUpgradeTime uint32 = 0xFFFFFFFF

// DefaultUpgradeTime is the operator-configurable default, per spec.md §4.4.4.
const DefaultUpgradeTime uint32 = 5

// NoAckStatuses are the APS confirm statuses treated as "no-ack" for the
// adaptive-sizing heuristic (spec.md §6, §9 Open Question: both 0xA7 and
// 0xE5 appear in different versions of the source; we treat either as
// no-ack and surface the set explicitly here rather than hardcoding a
// single magic byte).
var NoAckStatuses = map[uint8]bool{
	0xA7: true,
	0xE5: true,
}

// NoAckThreshold is the no-ack confirm count that must be exceeded before
// max_data_size shrinks to MaxSafeAsduSize (spec.md §4.5, §8): the shrink
// happens on the (NoAckThreshold+1)th no-ack.
const NoAckThreshold = 3

// MaxSafeAsduSize bounds dataSize once the no-ack threshold has been
// crossed, or when the very first block of a transfer (offset 0) fails —
// the source-routing adaptation.
const MaxSafeAsduSize = 40

// PayloadBugClipSize is the dataSize ceiling applied to manufacturers
// known to mishandle larger ASDU payloads (spec.md §4.4.2).
const PayloadBugClipSize = 40

// MaxASDUDataSize is the fixed ceiling on dataSize before any
// page/no-ack/quirk clipping, standing in for the underlying APS layer's
// maximum application payload. 64 is a conservative default safely under
// a typical unsecured ZigBee APS frame's usable payload.
const MaxASDUDataSize = 64
