package protocol

import (
	"context"
	"log"

	"github.com/anthropics/purple-otau/pkg/catalog"
	"github.com/anthropics/purple-otau/pkg/client"
	"github.com/anthropics/purple-otau/pkg/image"
	"github.com/anthropics/purple-otau/pkg/pacer"
	"github.com/anthropics/purple-otau/pkg/transport"
)

// Engine is the Protocol Engine: it decodes incoming cluster 0x0019
// commands, mutates client state, consults the Catalog, and composes
// responses. It is driven single-threadedly per spec.md §5 — OnIndication,
// OnConfirm, and the Pacer's Tick (which calls back into EmitPageBlock /
// SendImageNotify / GiveUp) must all be invoked from one goroutine.
type Engine struct {
	Registry  *client.Registry
	Catalog   *catalog.Catalog
	Gate      *pacer.ActivityGate
	Transport transport.Transport
	NodeDir   transport.NodeDirectory
	Logger    *log.Logger
	Clock     pacer.MonotonicClock
	Config    Config
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(reg *client.Registry, cat *catalog.Catalog, gate *pacer.ActivityGate, tr transport.Transport, dir transport.NodeDirectory, cfg Config) *Engine {
	return &Engine{
		Registry:  reg,
		Catalog:   cat,
		Gate:      gate,
		Transport: tr,
		NodeDir:   dir,
		Config:    cfg,
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// OnIndication handles one inbound APS datagram on cluster 0x0019.
func (e *Engine) OnIndication(ind transport.Indication) {
	if ind.ClusterID != ClusterID {
		return
	}
	now := e.Clock.Now()
	frame, err := DecodeFrame(ind.Asdu)
	if err != nil {
		e.logf("protocol: %v", &Violation{ExtAddr: ind.SrcExtAddr, Reason: "short ASDU", Cause: err})
		return
	}

	c := e.Registry.GetOrCreate(ind.SrcExtAddr, now)
	c.NwkAddr = ind.SrcAddr
	c.Endpoint = ind.SrcEP
	c.LastActivity = now
	if desc, ok := e.NodeDir.ResolveEndpoint(ind.SrcExtAddr); ok {
		c.ProfileID = desc.ProfileID
		c.RxOnWhenIdle = desc.RxOnWhenIdle
	}

	switch frame.CommandID {
	case CmdQueryNextImageReq:
		e.handleQueryNextImage(c, frame.Payload, now)
	case CmdImageBlockReq:
		e.handleImageBlock(c, frame.Payload, now)
	case CmdImagePageReq:
		e.handleImagePage(c, frame.Payload, now)
	case CmdUpgradeEndReq:
		e.handleUpgradeEnd(c, frame.Payload, now)
	default:
		e.logf("protocol: %v", &Violation{ExtAddr: c.ExtAddr, CommandID: frame.CommandID, Reason: "unhandled command"})
	}
}

// OnConfirm handles an APS delivery confirmation.
func (e *Engine) OnConfirm(conf transport.Confirm) {
	now := e.Clock.Now()
	for _, c := range e.Registry.All() {
		if c.Pending.RequestID == client.NoRequest || c.Pending.RequestID != conf.RequestID {
			continue
		}
		c.Pending.RequestID = client.NoRequest

		noAck := conf.Status != StatusSuccess && e.Config.isNoAck(conf.Status)
		success := conf.Status == StatusSuccess

		switch c.State {
		case client.WaitPageSpacing:
			e.onPageConfirm(c, success, noAck, now)
		case client.WaitConfirm:
			if noAck {
				c.NoAckCount++
				// Stays in WaitConfirm; the client will naturally retry
				// its own request after its timeout (spec.md §4.7).
				return
			}
			c.State = client.Idle
		}
		return
	}
}

func (e *Engine) onPageConfirm(c *client.Client, success, noAck bool, now client.Mono) {
	if success {
		c.NoAckCount = 0
		c.Cursor.Offset += uint32(c.Cursor.LastSentDataSize)
		c.Cursor.PageBytesDone += uint32(c.Cursor.LastSentDataSize)
		c.NextSequence++
		c.LastActivity = now
		if c.Cursor.PageBytesDone >= uint32(c.Cursor.PageSize) {
			c.State = client.WaitNextRequest
		}
		return
	}
	if noAck {
		c.NoAckCount++
		firstBlockFailed := c.Cursor.Offset == 0
		if c.NoAckCount > NoAckThreshold || firstBlockFailed {
			c.Cursor.MaxDataSize = minU8(c.Cursor.MaxDataSize, MaxSafeAsduSize)
		}
	}
	// Offset/PageBytesDone do not advance; the pacer will retry at the
	// same position on its next tick.
}

func minU8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

// --- QueryNextImageRequest -------------------------------------------------

func (e *Engine) handleQueryNextImage(c *client.Client, payload []byte, now client.Mono) {
	req, err := ParseQueryNextImageRequest(payload)
	if err != nil {
		e.logf("protocol: %v", &Violation{ExtAddr: c.ExtAddr, CommandID: CmdQueryNextImageReq, Reason: "bad length", Cause: err})
		return
	}

	c.ReportedManufacturer = req.Manufacturer
	c.ReportedImageType = req.ImageType
	c.ReportedSoftwareVer = req.FileVersion
	if req.HasHwVer {
		c.ReportedHardwareVer = req.HardwareVer
	}

	if c.Selected == nil {
		if entry, ok := e.Catalog.BestFor(req.Manufacturer, req.ImageType, req.FileVersion); ok {
			sel := entry
			c.Selected = &sel
			c.PermitUpdate = c.RxOnWhenIdle || e.Config.AllowSleepyDevices
		}
	}

	rsp, respond := e.selectQueryNextImageResponse(c, req)
	if !respond {
		return
	}
	c.State = client.WaitConfirm
	if rsp.Status == StatusSuccess {
		e.Gate.MarkActivity(c.ExtAddr)
	}
	e.send(c, CmdQueryNextImageRsp, rsp.Encode(), true)
}

func (e *Engine) selectQueryNextImageResponse(c *client.Client, req QueryNextImageRequest) (QueryNextImageResponse, bool) {
	if c.State == client.Abort {
		return QueryNextImageResponse{Status: StatusAbort}, true
	}
	if !e.Gate.MayStart(c.ExtAddr) {
		return QueryNextImageResponse{}, false
	}
	if e.Catalog.Suppressed(req.Manufacturer, req.ImageType, req.FileVersion) {
		return QueryNextImageResponse{Status: StatusNoImageAvailable}, true
	}
	if c.PermitUpdate && c.Selected != nil {
		return QueryNextImageResponse{
			Status:         StatusSuccess,
			Manufacturer:   c.Selected.Manufacturer,
			ImageType:      c.Selected.ImageType,
			FileVersion:    c.Selected.FileVersion,
			TotalImageSize: c.Selected.Image.TotalImageSize,
		}, true
	}
	if e.Config.AbortFallbackManufacturers[req.Manufacturer] {
		return QueryNextImageResponse{Status: StatusAbort}, true
	}
	return QueryNextImageResponse{Status: StatusNoImageAvailable}, true
}

// --- ImageBlockRequest ------------------------------------------------------

func (e *Engine) handleImageBlock(c *client.Client, payload []byte, now client.Mono) {
	req, err := ParseImageBlockRequest(payload)
	if err != nil {
		e.logf("protocol: %v", &Violation{ExtAddr: c.ExtAddr, CommandID: CmdImageBlockReq, Reason: "bad length", Cause: err})
		return
	}
	fileVersion := req.FileVersion
	if fileVersion == FileVersionWildcard && c.Selected != nil {
		fileVersion = c.Selected.FileVersion
	}

	status, ok := e.blockMetadataStatus(c, req.Manufacturer, req.ImageType, fileVersion)
	if !ok {
		c.State = client.WaitConfirm
		e.send(c, CmdImageBlockRsp, ImageBlockResponse{Status: status}.Encode(), true)
		return
	}

	if req.Offset >= c.Selected.Image.TotalImageSize {
		c.State = client.WaitConfirm
		e.send(c, CmdImageBlockRsp, ImageBlockResponse{Status: StatusMalformedCommand}.Encode(), true)
		return
	}

	dataSize := e.clipDataSize(c, req.MaxDataSize, req.Offset, nil)
	if dataSize == 0 {
		return
	}
	data := sliceImage(c.Selected.Image, req.Offset, dataSize)

	rsp := ImageBlockResponse{
		Status:       StatusSuccess,
		Manufacturer: c.Selected.Manufacturer,
		ImageType:    c.Selected.ImageType,
		FileVersion:  c.Selected.FileVersion,
		Offset:       req.Offset,
		Data:         data,
	}
	c.Cursor.Offset = req.Offset + uint32(dataSize)
	c.State = client.WaitConfirm
	e.send(c, CmdImageBlockRsp, rsp.Encode(), true)
}

// blockMetadataStatus implements the first three rules of §4.4.2's response
// selection: a metadata mismatch (or an already-aborted client) answers
// ABORT and, for a fresh mismatch, latches the client into Abort; a client
// with no selected image or without PermitUpdate gets NO_IMAGE_AVAILABLE.
func (e *Engine) blockMetadataStatus(c *client.Client, mfc, imageType uint16, fileVersion uint32) (uint8, bool) {
	mismatch := c.Selected == nil ||
		mfc != c.Selected.Manufacturer ||
		imageType != c.Selected.ImageType ||
		fileVersion != c.Selected.FileVersion
	if mismatch && c.Selected != nil {
		c.State = client.Abort
		return StatusAbort, false
	}
	if c.State == client.Abort {
		return StatusAbort, false
	}
	if c.Selected == nil || !c.PermitUpdate {
		return StatusNoImageAvailable, false
	}
	return StatusSuccess, true
}

func (e *Engine) clipDataSize(c *client.Client, requested uint8, offset uint32, pageBound *uint32) uint8 {
	remaining := c.Selected.Image.TotalImageSize - offset
	size := uint32(requested)
	if size > MaxASDUDataSize {
		size = MaxASDUDataSize
	}
	if size > remaining {
		size = remaining
	}
	if pageBound != nil && size > *pageBound {
		size = *pageBound
	}
	if e.Config.PayloadBugManufacturers[c.Selected.Manufacturer] && size > PayloadBugClipSize {
		size = PayloadBugClipSize
	}
	if c.NoAckCount > NoAckThreshold && size > MaxSafeAsduSize {
		size = MaxSafeAsduSize
	}
	if c.Cursor.MaxDataSize != 0 && size > uint32(c.Cursor.MaxDataSize) {
		size = uint32(c.Cursor.MaxDataSize)
	}
	return uint8(size)
}

func sliceImage(img *image.Image, offset uint32, size uint8) []byte {
	return img.Raw[offset : offset+uint32(size)]
}

// --- ImagePageRequest --------------------------------------------------------

func (e *Engine) handleImagePage(c *client.Client, payload []byte, now client.Mono) {
	req, err := ParseImagePageRequest(payload)
	if err != nil {
		e.logf("protocol: %v", &Violation{ExtAddr: c.ExtAddr, CommandID: CmdImagePageReq, Reason: "bad length", Cause: err})
		return
	}
	fileVersion := req.FileVersion
	if fileVersion == FileVersionWildcard && c.Selected != nil {
		fileVersion = c.Selected.FileVersion
	}

	status, ok := e.blockMetadataStatus(c, req.Manufacturer, req.ImageType, fileVersion)
	if !ok {
		c.State = client.WaitConfirm
		e.send(c, CmdImageBlockRsp, ImageBlockResponse{Status: status}.Encode(), true)
		return
	}
	if req.Offset >= c.Selected.Image.TotalImageSize {
		c.State = client.WaitConfirm
		e.send(c, CmdImageBlockRsp, ImageBlockResponse{Status: StatusMalformedCommand}.Encode(), true)
		return
	}

	spacing := clampSpacing(req.ResponseSpacing)

	c.Cursor.Offset = req.Offset
	c.Cursor.PageStart = req.Offset
	c.Cursor.PageSize = req.PageSize
	c.Cursor.PageBytesDone = 0
	c.Cursor.MaxDataSize = req.MaxDataSize
	c.Cursor.ResponseSpacing = spacing
	c.Cursor.LastSentDataSize = 0
	c.State = client.WaitPageSpacing
	c.LastActivity = now
	e.Gate.MarkActivity(c.ExtAddr)
}

func clampSpacing(ms uint16) uint16 {
	min := uint16(pacer.MinResponseSpacing.Milliseconds())
	max := uint16(pacer.MaxResponseSpacing.Milliseconds())
	if ms < min {
		return min
	}
	if ms > max {
		return max
	}
	return ms
}

// --- Pacer.PageDriver implementation -----------------------------------------

// EmitPageBlock attempts one block response for a client mid-page-transfer.
func (e *Engine) EmitPageBlock(c *client.Client, now client.Mono) bool {
	pageRemaining := uint32(c.Cursor.PageSize) - c.Cursor.PageBytesDone
	dataSize := e.clipDataSize(c, c.Cursor.MaxDataSize, c.Cursor.Offset, &pageRemaining)
	if dataSize == 0 {
		// Page boundary reached exactly; nothing to suppress-and-retry,
		// the next tick will observe PageBytesDone >= PageSize.
		c.Cursor.PageBytesDone = uint32(c.Cursor.PageSize)
		return true
	}
	data := sliceImage(c.Selected.Image, c.Cursor.Offset, dataSize)
	isLast := c.Cursor.PageBytesDone+uint32(dataSize) >= uint32(c.Cursor.PageSize)

	rsp := ImageBlockResponse{
		Status:       StatusSuccess,
		Manufacturer: c.Selected.Manufacturer,
		ImageType:    c.Selected.ImageType,
		FileVersion:  c.Selected.FileVersion,
		Offset:       c.Cursor.Offset,
		Data:         data,
	}
	id, err := e.Transport.SendAPS(context.Background(), transport.SendRequest{
		DstAddrMode: transport.AddrModeShort,
		DstAddr:     c.NwkAddr,
		DstEndpoint: c.Endpoint,
		SrcEndpoint: c.Endpoint,
		ProfileID:   c.ProfileID,
		ClusterID:   ClusterID,
		Radius:      0,
		TxAckReq:    isLast,
		Asdu:        EncodeFrame(Frame{CommandID: CmdImageBlockRsp, Payload: rsp.Encode()}),
	})
	if err != nil {
		return false
	}
	c.Cursor.LastSentDataSize = dataSize
	c.Pending = client.PendingRequest{RequestID: id, SentAt: now}
	return true
}

// SendImageNotify nudges a dormant WaitNextRequest client.
func (e *Engine) SendImageNotify(c *client.Client, now client.Mono) {
	e.send(c, CmdImageNotify, ImageNotifyPayload(), false)
}

// GiveUp drops a client back to Idle after a retry budget is exhausted.
func (e *Engine) GiveUp(c *client.Client) {
	c.State = client.Idle
	c.Pending = client.PendingRequest{RequestID: client.NoRequest}
	c.PageRetry = 0
	c.BlockRetry = 0
}

// --- UpgradeEndRequest --------------------------------------------------------

func (e *Engine) handleUpgradeEnd(c *client.Client, payload []byte, now client.Mono) {
	req, err := ParseUpgradeEndRequest(payload)
	if err != nil {
		e.logf("protocol: %v", &Violation{ExtAddr: c.ExtAddr, CommandID: CmdUpgradeEndReq, Reason: "bad length", Cause: err})
		return
	}
	c.LastEnd = client.UpgradeEndEcho{Status: req.Status, Manufacturer: req.Manufacturer, ImageType: req.ImageType, FileVersion: req.FileVersion}

	if req.Status == StatusSuccess && c.Cursor.Offset == 0 {
		// Workaround: the client claims success but never pulled a byte.
		// Breaks a reboot loop observed on certain buggy firmwares.
		e.send(c, DefaultResponseCommandID, DefaultResponsePayload(CmdUpgradeEndReq, StatusAbort), true)
		c.State = client.Idle
		return
	}

	if req.Status != StatusSuccess {
		e.send(c, DefaultResponseCommandID, DefaultResponsePayload(CmdUpgradeEndReq, StatusSuccess), true)
		c.State = client.Idle
		return
	}

	upgradeTime := e.Config.UpgradeTime
	vendorMatch := e.Config.VendorWDTReset &&
		req.Manufacturer == e.Config.VendorManufacturer &&
		req.ImageType == e.Config.VendorImageType
	if vendorMatch {
		upgradeTime = 0xFFFF
	}

	rsp := UpgradeEndResponse{
		Manufacturer: req.Manufacturer,
		ImageType:    req.ImageType,
		FileVersion:  req.FileVersion,
		CurrentTime:  0,
		UpgradeTime:  upgradeTime,
	}
	c.State = client.WaitConfirm
	e.send(c, CmdUpgradeEndRsp, rsp.Encode(), true)
	c.PermitUpdate = false
	c.Selected = nil

	if vendorMatch {
		e.scheduleVendorWDTReset(c)
	}
}

// scheduleVendorWDTReset logs that the VENDOR_DDEL + IMG_TYPE_FLS_NB
// watchdog-reset workaround (grounded on original_source/std_otau_plugin.cpp)
// is armed for c, with the configured VendorWDTResetDelay. Off unless
// Config.VendorWDTReset is set (see DESIGN.md). It only logs: Engine has no
// timer of its own, and the follow-up "write RAM" command on private
// cluster 0xFC00 is sent only when a caller invokes SendVendorWDTReset;
// cmd/otauserver does not call it.
func (e *Engine) scheduleVendorWDTReset(c *client.Client) {
	e.logf("protocol: vendor WDT reset workaround armed for %016X (delay=%ds)", c.ExtAddr, e.Config.VendorWDTResetDelay)
}

// SendVendorWDTReset emits the private-cluster "write RAM" command at once.
// Exported so a caller's own timer can invoke it after the delay without
// the Engine running extra timers of its own.
func (e *Engine) SendVendorWDTReset(c *client.Client) {
	const privateClusterFC00 = 0xFC00
	const cmdWriteRAM = 0x04
	_, _ = e.Transport.SendAPS(context.Background(), transport.SendRequest{
		DstAddrMode: transport.AddrModeShort,
		DstAddr:     c.NwkAddr,
		DstEndpoint: c.Endpoint,
		SrcEndpoint: c.Endpoint,
		ProfileID:   c.ProfileID,
		ClusterID:   privateClusterFC00,
		Radius:      0,
		TxAckReq:    false,
		Asdu:        []byte{cmdWriteRAM},
	})
}

// --- ImageNotify --------------------------------------------------------------

// BroadcastImageNotify sends an unsolicited nudge to rx-on-when-idle
// clients via NWK broadcast, endpoint 0xFF, no default-response required.
func (e *Engine) BroadcastImageNotify() {
	_, _ = e.Transport.SendAPS(context.Background(), transport.SendRequest{
		DstAddrMode: transport.AddrModeBroadcast,
		DstAddr:     0xFFFF,
		DstEndpoint: 0xFF,
		SrcEndpoint: 0xFF,
		ProfileID:   0,
		ClusterID:   ClusterID,
		Radius:      0,
		TxAckReq:    false,
		Asdu:        EncodeFrame(Frame{CommandID: CmdImageNotify, Payload: ImageNotifyPayload()}),
	})
}

// UnicastImageNotify sends a targeted nudge; default-response is allowed.
func (e *Engine) UnicastImageNotify(c *client.Client) {
	e.send(c, CmdImageNotify, ImageNotifyPayload(), true)
}

// --- transport plumbing -------------------------------------------------------

func (e *Engine) send(c *client.Client, cmdID uint8, payload []byte, ackRequired bool) {
	id, err := e.Transport.SendAPS(context.Background(), transport.SendRequest{
		DstAddrMode: transport.AddrModeShort,
		DstAddr:     c.NwkAddr,
		DstEndpoint: c.Endpoint,
		SrcEndpoint: c.Endpoint,
		ProfileID:   c.ProfileID,
		ClusterID:   ClusterID,
		Radius:      0,
		TxAckReq:    ackRequired,
		Asdu:        EncodeFrame(Frame{CommandID: cmdID, Payload: payload}),
	})
	if err != nil {
		e.logf("protocol: send to %016X cmd 0x%02X failed: %v", c.ExtAddr, cmdID, err)
		return
	}
	c.Pending = client.PendingRequest{RequestID: id, SentAt: e.Clock.Now()}
	c.NextSequence++
}

// Cleanup sweeps dormant client records (spec.md §4.7, CLEANUP_DELAY=4h).
func (e *Engine) Cleanup(now client.Mono) []uint64 {
	return e.Registry.CleanupDormant(CleanupDelay, now)
}
