//go:build unit

package protocol

import (
	"testing"

	"github.com/anthropics/purple-otau/pkg/catalog"
	"github.com/anthropics/purple-otau/pkg/client"
	"github.com/anthropics/purple-otau/pkg/image"
	"github.com/anthropics/purple-otau/pkg/pacer"
	"github.com/anthropics/purple-otau/pkg/transport"
	"github.com/anthropics/purple-otau/testutil"
)

func newTestEngine(t *testing.T, cat *catalog.Catalog) (*Engine, *transport.LoopbackTransport) {
	t.Helper()
	tr := transport.NewLoopbackTransport()
	dir := testutil.NewFakeNodeDirectory(transport.EndpointDescriptor{NwkAddr: 0x1234, Endpoint: 1, ProfileID: 0x0104, RxOnWhenIdle: true})
	reg := client.NewRegistry()
	gate := pacer.NewActivityGate(pacer.DefaultMaxActive, pacer.StaleAfter)
	e := NewEngine(reg, cat, gate, tr, dir, DefaultConfig())
	return e, tr
}

func buildImage(t *testing.T, mfc, imgType uint16, fileVersion uint32, payload []byte) *image.Image {
	t.Helper()
	return testutil.SampleImage(mfc, imgType, fileVersion, payload)
}

func queryFrame(mfc, imgType uint16, fileVersion uint32) []byte {
	req := QueryNextImageRequest{FieldControl: 0, Manufacturer: mfc, ImageType: imgType, FileVersion: fileVersion}
	payload := make([]byte, 9)
	payload[0] = req.FieldControl
	putU16(payload[1:], req.Manufacturer)
	putU16(payload[3:], req.ImageType)
	putU32(payload[5:], req.FileVersion)
	return EncodeFrame(Frame{CommandID: CmdQueryNextImageReq, Payload: payload})
}

func blockFrame(mfc, imgType uint16, fileVersion, offset uint32, maxDataSize uint8) []byte {
	payload := make([]byte, 14)
	putU16(payload[1:], mfc)
	putU16(payload[3:], imgType)
	putU32(payload[5:], fileVersion)
	putU32(payload[9:], offset)
	payload[13] = maxDataSize
	return EncodeFrame(Frame{CommandID: CmdImageBlockReq, Payload: payload})
}

func pageFrame(mfc, imgType uint16, fileVersion, offset uint32, maxDataSize uint8, pageSize, spacing uint16) []byte {
	payload := make([]byte, 18)
	putU16(payload[1:], mfc)
	putU16(payload[3:], imgType)
	putU32(payload[5:], fileVersion)
	putU32(payload[9:], offset)
	payload[13] = maxDataSize
	putU16(payload[14:], pageSize)
	putU16(payload[16:], spacing)
	return EncodeFrame(Frame{CommandID: CmdImagePageReq, Payload: payload})
}

func upgradeEndFrame(status uint8, mfc, imgType uint16, fileVersion uint32) []byte {
	payload := make([]byte, 9)
	payload[0] = status
	putU16(payload[1:], mfc)
	putU16(payload[3:], imgType)
	putU32(payload[5:], fileVersion)
	return EncodeFrame(Frame{CommandID: CmdUpgradeEndReq, Payload: payload})
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func ind(asdu []byte) transport.Indication {
	return transport.Indication{SrcExtAddr: 0xAABBCCDD, SrcAddr: 0x1234, SrcEP: 1, ProfileID: 0x0104, ClusterID: ClusterID, Asdu: asdu}
}

// TestQueryNextImageHappyPath covers spec.md §8's single-block happy path:
// a client queries, a newer image is found, SUCCESS is returned.
func TestQueryNextImageHappyPath(t *testing.T) {
	img := buildImage(t, 0x1001, 0x02, 0x00000002, []byte("firmware-bytes"))
	cat := catalog.New()
	cat.SetQuirks(nil)
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}

	e, tr := newTestEngine(t, cat)
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))

	sent := tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent frame, got %d", len(sent))
	}
	frame, err := DecodeFrame(sent[0].Asdu)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.CommandID != CmdQueryNextImageRsp {
		t.Fatalf("CommandID = 0x%02X, expected QueryNextImageRsp", frame.CommandID)
	}
	if frame.Payload[0] != StatusSuccess {
		t.Fatalf("status = 0x%02X, expected SUCCESS", frame.Payload[0])
	}

	c, ok := e.Registry.Get(0xAABBCCDD)
	if !ok {
		t.Fatal("expected client to be registered")
	}
	if c.State != client.WaitConfirm {
		t.Errorf("State = %v, expected WaitConfirm", c.State)
	}
	if c.Selected == nil || c.Selected.FileVersion != 0x00000002 {
		t.Errorf("expected selected entry at file version 2")
	}
}

func TestQueryNextImageNoUpgradeAvailable(t *testing.T) {
	cat := catalog.New()
	e, tr := newTestEngine(t, cat)
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))

	sent := tr.Sent()
	frame, _ := DecodeFrame(sent[0].Asdu)
	if frame.Payload[0] != StatusNoImageAvailable {
		t.Fatalf("status = 0x%02X, expected NO_IMAGE_AVAILABLE", frame.Payload[0])
	}
}

// TestQueryNextImageAbortFallback covers spec.md §4.4.1 rule 5: a
// manufacturer configured for the abort-fallback quirk gets ABORT instead
// of NO_IMAGE_AVAILABLE when no image is found.
func TestQueryNextImageAbortFallback(t *testing.T) {
	cat := catalog.New()
	e, tr := newTestEngine(t, cat)
	e.Config.AbortFallbackManufacturers[0x1001] = true
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))

	sent := tr.Sent()
	frame, _ := DecodeFrame(sent[0].Asdu)
	if frame.Payload[0] != StatusAbort {
		t.Fatalf("status = 0x%02X, expected ABORT", frame.Payload[0])
	}
}

func TestQueryNextImageQuirkSuppressed(t *testing.T) {
	img := buildImage(t, 0x1001, 0x02, 0x00000002, []byte("firmware-bytes"))
	cat := catalog.New()
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}
	cat.SetQuirks([]catalog.QuirkRule{{Manufacturer: 0x1001, ImageType: 0x02, MinSwVer: 0, MaxSwVer: 0xFFFFFFFF, Reason: "bricked batch"}})

	e, tr := newTestEngine(t, cat)
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))

	sent := tr.Sent()
	frame, _ := DecodeFrame(sent[0].Asdu)
	if frame.Payload[0] != StatusNoImageAvailable {
		t.Fatalf("status = 0x%02X, expected NO_IMAGE_AVAILABLE (suppressed)", frame.Payload[0])
	}
}

// TestQueryNextImageGateRefusal covers spec.md §4.3: once the gate is at
// capacity with other clients, a brand-new client's query gets no reply.
func TestQueryNextImageGateRefusal(t *testing.T) {
	img := buildImage(t, 0x1001, 0x02, 0x00000002, []byte("firmware-bytes"))
	cat := catalog.New()
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}
	e, tr := newTestEngine(t, cat)
	for i := 0; i < pacer.DefaultMaxActive; i++ {
		e.Gate.MarkActivity(uint64(i + 1))
	}
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))

	if len(tr.Sent()) != 0 {
		t.Fatalf("expected no reply while gate is saturated, got %d sends", len(tr.Sent()))
	}
}

// TestImageBlockTransfer drives a full single-block transfer: query,
// confirm, one ImageBlockRequest, UpgradeEndRequest.
func TestImageBlockTransfer(t *testing.T) {
	payload := []byte("abcdefghijklmnopqrstuvwxyz0123456789")
	img := buildImage(t, 0x1001, 0x02, 0x00000002, payload)
	cat := catalog.New()
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}
	e, tr := newTestEngine(t, cat)
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))

	c, _ := e.Registry.Get(0xAABBCCDD)
	e.OnConfirm(transport.Confirm{RequestID: c.Pending.RequestID, Status: StatusSuccess})
	if c.State != client.Idle {
		t.Fatalf("State after query confirm = %v, expected Idle", c.State)
	}

	e.OnIndication(ind(blockFrame(0x1001, 0x02, 0xFFFFFFFF, 0, 64)))
	sent := tr.Sent()
	last := sent[len(sent)-1]
	frame, _ := DecodeFrame(last.Asdu)
	if frame.CommandID != CmdImageBlockRsp {
		t.Fatalf("CommandID = 0x%02X, expected ImageBlockRsp", frame.CommandID)
	}
	if frame.Payload[0] != StatusSuccess {
		t.Fatalf("status = 0x%02X, expected SUCCESS", frame.Payload[0])
	}
	rsp, err := decodeBlockRsp(frame.Payload)
	if err != nil {
		t.Fatalf("decode block rsp: %v", err)
	}
	if len(rsp.Data) != 64 {
		t.Fatalf("len(Data) = %d, expected 64", len(rsp.Data))
	}
	if string(rsp.Data) != string(img.Raw[:64]) {
		t.Errorf("block data does not match the source image's bytes at offset 0")
	}

	e.OnIndication(ind(upgradeEndFrame(StatusSuccess, 0x1001, 0x02, 0x00000002)))
	sent = tr.Sent()
	last = sent[len(sent)-1]
	frame, _ = DecodeFrame(last.Asdu)
	if frame.CommandID != CmdUpgradeEndRsp {
		t.Fatalf("CommandID = 0x%02X, expected UpgradeEndRsp", frame.CommandID)
	}
}

// decodeBlockRsp is a minimal test-local decoder for ImageBlockResponse's
// SUCCESS shape, mirroring wire.go's encoder.
func decodeBlockRsp(p []byte) (ImageBlockResponse, error) {
	if len(p) < 14 {
		return ImageBlockResponse{}, ErrTruncated
	}
	n := int(p[13])
	if len(p) < 14+n {
		return ImageBlockResponse{}, ErrTruncated
	}
	return ImageBlockResponse{Data: p[14 : 14+n]}, nil
}

// TestUpgradeEndBogusWorkaround covers spec.md §4.4.4: a client claiming
// SUCCESS without ever pulling a byte gets ABORT via a Default Response,
// not an UpgradeEndResponse.
func TestUpgradeEndBogusWorkaround(t *testing.T) {
	img := buildImage(t, 0x1001, 0x02, 0x00000002, []byte("payload"))
	cat := catalog.New()
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}
	e, tr := newTestEngine(t, cat)
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))
	e.OnIndication(ind(upgradeEndFrame(StatusSuccess, 0x1001, 0x02, 0x00000002)))

	sent := tr.Sent()
	last := sent[len(sent)-1]
	frame, _ := DecodeFrame(last.Asdu)
	if frame.CommandID != DefaultResponseCommandID {
		t.Fatalf("CommandID = 0x%02X, expected DefaultResponse", frame.CommandID)
	}
	if frame.Payload[1] != StatusAbort {
		t.Fatalf("status = 0x%02X, expected ABORT", frame.Payload[1])
	}
}

// TestVersionMismatchMidStreamAborts covers spec.md §8's mismatch scenario:
// once a client is locked onto a selection, a later request naming a
// different image latches it into Abort.
func TestVersionMismatchMidStreamAborts(t *testing.T) {
	img := buildImage(t, 0x1001, 0x02, 0x00000002, []byte("0123456789abcdef"))
	cat := catalog.New()
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}
	e, tr := newTestEngine(t, cat)
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))
	c, _ := e.Registry.Get(0xAABBCCDD)
	e.OnConfirm(transport.Confirm{RequestID: c.Pending.RequestID, Status: StatusSuccess})

	e.OnIndication(ind(blockFrame(0x1001, 0x03, 0x00000002, 0, 64)))

	if c.State != client.Abort {
		t.Fatalf("State = %v, expected Abort", c.State)
	}
	sent := tr.Sent()
	frame, _ := DecodeFrame(sent[len(sent)-1].Asdu)
	if frame.Payload[0] != StatusAbort {
		t.Fatalf("status = 0x%02X, expected ABORT", frame.Payload[0])
	}
}

func TestImagePageArmsPacer(t *testing.T) {
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	img := buildImage(t, 0x1001, 0x02, 0x00000002, payload)
	cat := catalog.New()
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}
	e, _ := newTestEngine(t, cat)
	e.OnIndication(ind(queryFrame(0x1001, 0x02, 0x00000001)))
	c, _ := e.Registry.Get(0xAABBCCDD)
	e.OnConfirm(transport.Confirm{RequestID: c.Pending.RequestID, Status: StatusSuccess})

	e.OnIndication(ind(pageFrame(0x1001, 0x02, 0xFFFFFFFF, 0, 64, 128, 5)))

	if c.State != client.WaitPageSpacing {
		t.Fatalf("State = %v, expected WaitPageSpacing", c.State)
	}
	if c.Cursor.ResponseSpacing != uint16(pacer.MinResponseSpacing.Milliseconds()) {
		t.Errorf("ResponseSpacing = %d, expected clamp to MinResponseSpacing", c.Cursor.ResponseSpacing)
	}
	if c.Cursor.PageSize != 128 {
		t.Errorf("PageSize = %d, expected 128", c.Cursor.PageSize)
	}
}

func TestClipDataSizeAppliesPayloadBugQuirk(t *testing.T) {
	payload := make([]byte, 200)
	img := buildImage(t, 0x1001, 0x02, 0x00000002, payload)
	cat := catalog.New()
	if _, err := cat.IndexBytes("fixture.zigbee", img.Raw); err != nil {
		t.Fatalf("index: %v", err)
	}
	e, _ := newTestEngine(t, cat)
	e.Config.PayloadBugManufacturers[0x1001] = true
	c := e.Registry.GetOrCreate(1, 0)
	entry := cat.Entries()[0]
	c.Selected = &entry
	c.PermitUpdate = true

	got := e.clipDataSize(c, 64, 0, nil)
	if got != PayloadBugClipSize {
		t.Errorf("clipDataSize = %d, expected %d", got, PayloadBugClipSize)
	}
}

func TestOnPageConfirmShrinksAfterNoAckThreshold(t *testing.T) {
	e, _ := newTestEngine(t, catalog.New())
	c := e.Registry.GetOrCreate(1, 0)
	c.State = client.WaitPageSpacing
	c.Cursor.MaxDataSize = 64
	c.Cursor.Offset = 64 // past the first block, so only the threshold rule applies
	c.NoAckCount = NoAckThreshold

	e.onPageConfirm(c, false, true, 0)

	if c.Cursor.MaxDataSize != MaxSafeAsduSize {
		t.Errorf("MaxDataSize = %d, expected clamp to %d after crossing no-ack threshold", c.Cursor.MaxDataSize, MaxSafeAsduSize)
	}
}

func TestOnPageConfirmShrinksOnFirstBlockFailure(t *testing.T) {
	e, _ := newTestEngine(t, catalog.New())
	c := e.Registry.GetOrCreate(1, 0)
	c.State = client.WaitPageSpacing
	c.Cursor.MaxDataSize = 64
	c.Cursor.Offset = 0
	c.Cursor.PageStart = 0

	e.onPageConfirm(c, false, true, 0)

	if c.Cursor.MaxDataSize != MaxSafeAsduSize {
		t.Errorf("MaxDataSize = %d, expected clamp to %d on first-block failure", c.Cursor.MaxDataSize, MaxSafeAsduSize)
	}
}

func TestOnPageConfirmAdvancesCursorOnSuccess(t *testing.T) {
	e, _ := newTestEngine(t, catalog.New())
	c := e.Registry.GetOrCreate(1, 0)
	c.State = client.WaitPageSpacing
	c.Cursor.PageSize = 128
	c.Cursor.LastSentDataSize = 64

	e.onPageConfirm(c, true, false, 0)

	if c.Cursor.Offset != 64 || c.Cursor.PageBytesDone != 64 {
		t.Errorf("Offset/PageBytesDone = %d/%d, expected 64/64", c.Cursor.Offset, c.Cursor.PageBytesDone)
	}
	if c.State != client.WaitPageSpacing {
		t.Errorf("State = %v, expected WaitPageSpacing (page not yet done)", c.State)
	}

	e.onPageConfirm(c, true, false, 0)
	if c.State != client.WaitNextRequest {
		t.Errorf("State = %v, expected WaitNextRequest once page is done", c.State)
	}
}
