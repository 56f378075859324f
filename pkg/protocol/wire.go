// Package protocol implements the OTA cluster 0x0019 Protocol Engine:
// frame encode/decode and the per-client dispatcher. All integers on the
// wire are little-endian (spec.md §6) — unlike the teacher's own firmware
// control protocol (pkg/control/protocol.go), which packs network-order
// headers because that's what the Hailo firmware's ABI demands; the OTA
// cluster's own byte order is dictated by the ZigBee spec instead, so this
// package uses encoding/binary.LittleEndian throughout, mirroring the
// image codec's convention rather than the control protocol's.
package protocol

import (
	"encoding/binary"
)

// Frame is a minimal ZCL-cluster-specific frame: command id plus payload.
// The frame-control/sequence-number bytes that a full ZCL stack would
// prepend are the transport's concern (folded into transport.SendRequest's
// Asdu by the caller); the engine only needs the command id to dispatch.
type Frame struct {
	CommandID uint8
	Payload   []byte
}

// DecodeFrame splits an inbound ASDU into its command id and payload.
func DecodeFrame(asdu []byte) (Frame, error) {
	if len(asdu) < 1 {
		return Frame{}, ErrTruncated
	}
	return Frame{CommandID: asdu[0], Payload: asdu[1:]}, nil
}

// EncodeFrame prepends the command id to payload.
func EncodeFrame(f Frame) []byte {
	out := make([]byte, 1+len(f.Payload))
	out[0] = f.CommandID
	copy(out[1:], f.Payload)
	return out
}

// QueryNextImageRequest is the parsed C→S 0x01 payload.
type QueryNextImageRequest struct {
	FieldControl uint8
	Manufacturer uint16
	ImageType    uint16
	FileVersion  uint32
	HasHwVer     bool
	HardwareVer  uint16
}

func ParseQueryNextImageRequest(p []byte) (QueryNextImageRequest, error) {
	if len(p) != 9 && len(p) != 11 {
		return QueryNextImageRequest{}, ErrTruncated
	}
	req := QueryNextImageRequest{
		FieldControl: p[0],
		Manufacturer: binary.LittleEndian.Uint16(p[1:]),
		ImageType:    binary.LittleEndian.Uint16(p[3:]),
		FileVersion:  binary.LittleEndian.Uint32(p[5:]),
	}
	if len(p) == 11 {
		req.HasHwVer = true
		req.HardwareVer = binary.LittleEndian.Uint16(p[9:])
	}
	return req, nil
}

// QueryNextImageResponse is the parsed/built S→C 0x02 payload.
type QueryNextImageResponse struct {
	Status         uint8
	Manufacturer   uint16
	ImageType      uint16
	FileVersion    uint32
	TotalImageSize uint32
}

func (r QueryNextImageResponse) Encode() []byte {
	if r.Status != StatusSuccess {
		return []byte{r.Status}
	}
	buf := make([]byte, 13)
	buf[0] = r.Status
	binary.LittleEndian.PutUint16(buf[1:], r.Manufacturer)
	binary.LittleEndian.PutUint16(buf[3:], r.ImageType)
	binary.LittleEndian.PutUint32(buf[5:], r.FileVersion)
	binary.LittleEndian.PutUint32(buf[9:], r.TotalImageSize)
	return buf
}

// ImageBlockRequest is the parsed C→S 0x03/0x04 common prefix (0x04 adds
// PageSize/ResponseSpacing).
type ImageBlockRequest struct {
	FieldControl uint8
	Manufacturer uint16
	ImageType    uint16
	FileVersion  uint32
	Offset       uint32
	MaxDataSize  uint8
	HasIEEE      bool
	IEEE         uint64

	IsPage          bool
	PageSize        uint16
	ResponseSpacing uint16
}

func ParseImageBlockRequest(p []byte) (ImageBlockRequest, error) {
	const minLen = 1 + 2 + 2 + 4 + 4 + 1
	if len(p) < minLen {
		return ImageBlockRequest{}, ErrTruncated
	}
	req := ImageBlockRequest{
		FieldControl: p[0],
		Manufacturer: binary.LittleEndian.Uint16(p[1:]),
		ImageType:    binary.LittleEndian.Uint16(p[3:]),
		FileVersion:  binary.LittleEndian.Uint32(p[5:]),
		Offset:       binary.LittleEndian.Uint32(p[9:]),
		MaxDataSize:  p[13],
	}
	off := 14
	if req.FieldControl&0x01 != 0 { // request-node-address present
		if len(p) < off+8 {
			return ImageBlockRequest{}, ErrTruncated
		}
		req.HasIEEE = true
		req.IEEE = binary.LittleEndian.Uint64(p[off:])
		off += 8
	}
	return req, nil
}

func ParseImagePageRequest(p []byte) (ImageBlockRequest, error) {
	req, err := ParseImageBlockRequest(p)
	if err != nil {
		return ImageBlockRequest{}, err
	}
	off := 14
	if req.HasIEEE {
		off += 8
	}
	if len(p) < off+4 {
		return ImageBlockRequest{}, ErrTruncated
	}
	req.IsPage = true
	req.PageSize = binary.LittleEndian.Uint16(p[off:])
	req.ResponseSpacing = binary.LittleEndian.Uint16(p[off+2:])
	return req, nil
}

// ImageBlockResponse is the S→C 0x05 payload.
type ImageBlockResponse struct {
	Status       uint8
	Manufacturer uint16
	ImageType    uint16
	FileVersion  uint32
	Offset       uint32
	Data         []byte
}

func (r ImageBlockResponse) Encode() []byte {
	if r.Status != StatusSuccess {
		return []byte{r.Status}
	}
	buf := make([]byte, 1+2+2+4+4+1+len(r.Data))
	buf[0] = r.Status
	binary.LittleEndian.PutUint16(buf[1:], r.Manufacturer)
	binary.LittleEndian.PutUint16(buf[3:], r.ImageType)
	binary.LittleEndian.PutUint32(buf[5:], r.FileVersion)
	binary.LittleEndian.PutUint32(buf[9:], r.Offset)
	buf[13] = uint8(len(r.Data))
	copy(buf[14:], r.Data)
	return buf
}

// UpgradeEndRequest is the parsed C→S 0x06 payload.
type UpgradeEndRequest struct {
	Status       uint8
	Manufacturer uint16
	ImageType    uint16
	FileVersion  uint32
}

func ParseUpgradeEndRequest(p []byte) (UpgradeEndRequest, error) {
	if len(p) != 9 {
		return UpgradeEndRequest{}, ErrTruncated
	}
	return UpgradeEndRequest{
		Status:       p[0],
		Manufacturer: binary.LittleEndian.Uint16(p[1:]),
		ImageType:    binary.LittleEndian.Uint16(p[3:]),
		FileVersion:  binary.LittleEndian.Uint32(p[5:]),
	}, nil
}

// UpgradeEndResponse is the S→C 0x07 payload.
type UpgradeEndResponse struct {
	Manufacturer uint16
	ImageType    uint16
	FileVersion  uint32
	CurrentTime  uint32
	UpgradeTime  uint32
}

func (r UpgradeEndResponse) Encode() []byte {
	buf := make([]byte, 2+2+4+4+4)
	binary.LittleEndian.PutUint16(buf[0:], r.Manufacturer)
	binary.LittleEndian.PutUint16(buf[2:], r.ImageType)
	binary.LittleEndian.PutUint32(buf[4:], r.FileVersion)
	binary.LittleEndian.PutUint32(buf[8:], r.CurrentTime)
	binary.LittleEndian.PutUint32(buf[12:], r.UpgradeTime)
	return buf
}

// ImageNotifyPayload is the S→C 0x00 payload; always the same two bytes
// per spec.md §4.6.
func ImageNotifyPayload() []byte {
	return []byte{0x00, 100}
}

// DefaultResponsePayload builds the ZCL global Default Response payload
// for the given originating command and status.
func DefaultResponsePayload(respCmd, status uint8) []byte {
	return []byte{respCmd, status}
}
