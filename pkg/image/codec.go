// Package image implements the OTA image container: parsing and
// serializing the binary header plus its tagged sub-elements.
package image

import (
	"encoding/binary"
)

// Magic is the four-byte little-endian container magic, 0x0BEEF11E on the
// wire as bytes 1E F1 EE 0B.
const Magic uint32 = 0x0BEEF11E

// MaxMagicSearch bounds how many leading bytes before the magic we'll
// tolerate (some upstream tooling emits container headers of its own).
const MaxMagicSearch = 256

// MinHeaderLength is the size of the fixed header fields, before any
// optional field or sub-element.
const MinHeaderLength = 56

const headerStringLen = 32

// Field control bits.
const (
	FieldControlSecurityCredential uint16 = 0x0001
	FieldControlDeviceSpecific     uint16 = 0x0002
	FieldControlHardwareVersion    uint16 = 0x0004
)

// Well-known sub-element tags.
const (
	TagUpgradeImage uint16 = 0x0000
)

// SubElement is a (tag, length, payload) record inside the container.
type SubElement struct {
	Tag     uint16
	Length  uint32
	Payload []byte

	// Truncated is set when the declared Length exceeded the bytes
	// remaining in the source buffer; Payload holds what was available
	// and Length still reflects the original declaration.
	Truncated bool
}

// Image is a parsed OTA container. Raw retains the bytes this value was
// parsed from, starting at the magic (Builder.Build fills it with the
// serialized image; it is nil for an Image assembled by hand, such as
// WrapRawFirmware's result) so response payloads can be sliced without
// re-serializing.
type Image struct {
	HeaderVersion      uint16
	HeaderFieldControl uint16
	ManufacturerCode   uint16
	ImageType          uint16
	FileVersion        uint32
	ZigbeeStackVersion uint16
	HeaderString       [headerStringLen]byte
	TotalImageSize     uint32

	SecurityCredentialVersion uint8
	HasSecurityCredential     bool

	UpgradeFileDestination uint64
	HasDeviceSpecific      bool

	MinHardwareVersion uint16
	MaxHardwareVersion uint16
	HasHardwareVersion bool

	SubElements []SubElement

	Raw []byte
}

// HeaderLength returns the on-wire header size implied by this image's
// field-control bits (fixed fields plus whichever optionals are present).
func (img *Image) HeaderLength() uint16 {
	n := MinHeaderLength
	if img.HasSecurityCredential {
		n += 1
	}
	if img.HasDeviceSpecific {
		n += 8
	}
	if img.HasHardwareVersion {
		n += 4
	}
	return uint16(n)
}

// UpgradeImage returns the payload of the first tag-0x0000 sub-element, if
// any.
func (img *Image) UpgradeImage() ([]byte, bool) {
	for _, se := range img.SubElements {
		if se.Tag == TagUpgradeImage {
			return se.Payload, true
		}
	}
	return nil, false
}

// Parse locates the magic within buf (tolerating up to MaxMagicSearch bytes
// of prefix), reads the fixed and optional header fields, and then reads
// zero or more sub-elements. A sub-element whose declared length exceeds
// the remaining buffer is truncated and flagged rather than rejected.
func Parse(buf []byte) (*Image, error) {
	if len(buf) < MinHeaderLength {
		return nil, ErrTruncated
	}
	start, err := findMagic(buf)
	if err != nil {
		return nil, err
	}
	b := buf[start:]

	if len(b) < MinHeaderLength {
		return nil, ErrTruncated
	}

	img := &Image{Raw: b}
	off := 0

	// magic already matched
	off += 4
	img.HeaderVersion = binary.LittleEndian.Uint16(b[off:])
	off += 2
	headerLength := binary.LittleEndian.Uint16(b[off:])
	off += 2
	img.HeaderFieldControl = binary.LittleEndian.Uint16(b[off:])
	off += 2
	img.ManufacturerCode = binary.LittleEndian.Uint16(b[off:])
	off += 2
	img.ImageType = binary.LittleEndian.Uint16(b[off:])
	off += 2
	img.FileVersion = binary.LittleEndian.Uint32(b[off:])
	off += 4
	img.ZigbeeStackVersion = binary.LittleEndian.Uint16(b[off:])
	off += 2
	copy(img.HeaderString[:], b[off:off+headerStringLen])
	off += headerStringLen
	img.TotalImageSize = binary.LittleEndian.Uint32(b[off:])
	off += 4

	if headerLength < MinHeaderLength {
		return nil, ErrMalformedHeader
	}

	if img.HeaderFieldControl&FieldControlSecurityCredential != 0 {
		if off+1 > len(b) {
			return nil, ErrTruncated
		}
		img.HasSecurityCredential = true
		img.SecurityCredentialVersion = b[off]
		off += 1
	}
	if img.HeaderFieldControl&FieldControlDeviceSpecific != 0 {
		if off+8 > len(b) {
			return nil, ErrTruncated
		}
		img.HasDeviceSpecific = true
		img.UpgradeFileDestination = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	if img.HeaderFieldControl&FieldControlHardwareVersion != 0 {
		if off+4 > len(b) {
			return nil, ErrTruncated
		}
		img.HasHardwareVersion = true
		img.MinHardwareVersion = binary.LittleEndian.Uint16(b[off:])
		off += 2
		img.MaxHardwareVersion = binary.LittleEndian.Uint16(b[off:])
		off += 2
	}

	// Respect the declared header_length: skip any trailing bytes of the
	// header beyond the fields we understand, rather than assuming off
	// already matches it.
	if int(headerLength) > len(b) {
		return nil, ErrTruncated
	}
	off = int(headerLength)

	for off < len(b) {
		if off+6 > len(b) {
			break
		}
		tag := binary.LittleEndian.Uint16(b[off:])
		length := binary.LittleEndian.Uint32(b[off+2:])
		off += 6

		remaining := len(b) - off
		se := SubElement{Tag: tag, Length: length}
		if int(length) > remaining {
			se.Payload = b[off:]
			se.Truncated = true
			off = len(b)
		} else {
			se.Payload = b[off : off+int(length)]
			off += int(length)
		}
		img.SubElements = append(img.SubElements, se)
	}

	if len(img.SubElements) == 0 {
		return nil, ErrNoSubElements
	}

	return img, nil
}

func findMagic(buf []byte) (int, error) {
	limit := MaxMagicSearch
	if limit > len(buf)-4 {
		limit = len(buf) - 4
	}
	for i := 0; i <= limit; i++ {
		if i < 0 {
			break
		}
		if binary.LittleEndian.Uint32(buf[i:]) == Magic {
			return i, nil
		}
	}
	return 0, ErrMagicNotFound
}

// Serialize recomputes HeaderLength and TotalImageSize and emits the image
// in its declared little-endian field order.
func Serialize(img *Image) []byte {
	hdrLen := img.HeaderLength()
	total := uint32(hdrLen)
	for _, se := range img.SubElements {
		total += 6 + uint32(len(se.Payload))
	}

	buf := make([]byte, total)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], Magic)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], img.HeaderVersion)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], hdrLen)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], img.HeaderFieldControl)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], img.ManufacturerCode)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], img.ImageType)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], img.FileVersion)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], img.ZigbeeStackVersion)
	off += 2
	copy(buf[off:off+headerStringLen], img.HeaderString[:])
	off += headerStringLen
	binary.LittleEndian.PutUint32(buf[off:], total)
	off += 4

	if img.HasSecurityCredential {
		buf[off] = img.SecurityCredentialVersion
		off += 1
	}
	if img.HasDeviceSpecific {
		binary.LittleEndian.PutUint64(buf[off:], img.UpgradeFileDestination)
		off += 8
	}
	if img.HasHardwareVersion {
		binary.LittleEndian.PutUint16(buf[off:], img.MinHardwareVersion)
		off += 2
		binary.LittleEndian.PutUint16(buf[off:], img.MaxHardwareVersion)
		off += 2
	}

	for _, se := range img.SubElements {
		binary.LittleEndian.PutUint16(buf[off:], se.Tag)
		off += 2
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(se.Payload)))
		off += 4
		off += copy(buf[off:], se.Payload)
	}

	img.TotalImageSize = total
	return buf
}

// WrapRawFirmware wraps a raw firmware blob (as read from a .bin or .GCF
// file) into a single upgrade-image sub-element: mem_offset (u32), length
// (u32), raw bytes, and a trailing zero crc8 byte. No header transformation
// beyond this is performed; callers still need to fill in manufacturer
// code, image type, and file version before serializing.
func WrapRawFirmware(data []byte, memOffset uint32) *Image {
	payload := make([]byte, 8+len(data)+1)
	binary.LittleEndian.PutUint32(payload[0:], memOffset)
	binary.LittleEndian.PutUint32(payload[4:], uint32(len(data)))
	copy(payload[8:], data)
	// trailing crc8 byte left zero

	return &Image{
		HeaderVersion:      0x0100,
		ZigbeeStackVersion: 0x0002, // ZigBee PRO
		SubElements: []SubElement{
			{Tag: TagUpgradeImage, Length: uint32(len(payload)), Payload: payload},
		},
	}
}
