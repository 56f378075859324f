package image

// Builder constructs a well-formed Image fluently, mirroring the teacher's
// packed-header builder style (pkg/control/protocol.go's
// PackApplicationHeader). Used by tests (through testutil.SampleImage) to
// synthesize fixture images.
type Builder struct {
	img Image
}

// NewBuilder starts a Builder with sane defaults (current header version,
// ZigBee PRO stack version).
func NewBuilder() *Builder {
	return &Builder{img: Image{
		HeaderVersion:      0x0100,
		ZigbeeStackVersion: 0x0002,
	}}
}

func (b *Builder) Manufacturer(mfc uint16) *Builder {
	b.img.ManufacturerCode = mfc
	return b
}

func (b *Builder) ImageType(t uint16) *Builder {
	b.img.ImageType = t
	return b
}

func (b *Builder) FileVersion(v uint32) *Builder {
	b.img.FileVersion = v
	return b
}

func (b *Builder) HeaderString(s string) *Builder {
	var arr [headerStringLen]byte
	for i := 0; i < headerStringLen; i++ {
		arr[i] = ' '
	}
	copy(arr[:], s)
	b.img.HeaderString = arr
	return b
}

func (b *Builder) SecurityCredentialVersion(v uint8) *Builder {
	b.img.HasSecurityCredential = true
	b.img.SecurityCredentialVersion = v
	b.img.HeaderFieldControl |= FieldControlSecurityCredential
	return b
}

func (b *Builder) UpgradeFileDestination(dest uint64) *Builder {
	b.img.HasDeviceSpecific = true
	b.img.UpgradeFileDestination = dest
	b.img.HeaderFieldControl |= FieldControlDeviceSpecific
	return b
}

func (b *Builder) HardwareVersionRange(min, max uint16) *Builder {
	b.img.HasHardwareVersion = true
	b.img.MinHardwareVersion = min
	b.img.MaxHardwareVersion = max
	b.img.HeaderFieldControl |= FieldControlHardwareVersion
	return b
}

func (b *Builder) SubElement(tag uint16, payload []byte) *Builder {
	b.img.SubElements = append(b.img.SubElements, SubElement{
		Tag:     tag,
		Length:  uint32(len(payload)),
		Payload: payload,
	})
	return b
}

func (b *Builder) UpgradeImagePayload(payload []byte) *Builder {
	return b.SubElement(TagUpgradeImage, payload)
}

// Build finalizes the Image and computes Raw via Serialize.
func (b *Builder) Build() *Image {
	img := b.img
	img.Raw = Serialize(&img)
	return &img
}
