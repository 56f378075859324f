// Package catalog scans a directory of OTA image files, indexes them by
// (manufacturer, image type, file version), and selects the best upgrade
// candidate for a client.
package catalog

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/purple-otau/pkg/image"
)

// Entry is one indexed catalog image.
type Entry struct {
	Manufacturer uint16
	ImageType    uint16
	FileVersion  uint32
	Path         string
	Image        *image.Image
}

// recognizedExt reports whether the catalog should attempt to index a
// file with this extension, and whether it's a raw-firmware blob that
// needs wrapping rather than a self-describing container.
func recognizedExt(name string) (raw bool, ok bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zigbee"), strings.HasSuffix(lower, ".ota"),
		strings.HasSuffix(lower, ".ota.signed"):
		return false, true
	case strings.HasSuffix(lower, ".bin"), strings.HasSuffix(lower, ".gcf"):
		return true, true
	}
	return false, false
}

// CanonicalName returns the MMMM-TTTT-VVVVVVVV uppercase-hex short name for
// an entry's key.
func CanonicalName(mfc, imageType uint16, fileVersion uint32) string {
	return fmt.Sprintf("%04X-%04X-%08X", mfc, imageType, fileVersion)
}

// Catalog holds indexed entries and the quirk-suppression table. Logger
// defaults to log.Default() when nil, matching the teacher's nil-check
// convention for optional collaborators.
type Catalog struct {
	Logger *log.Logger

	entries []Entry
	quirks  []QuirkRule
}

// New returns an empty Catalog with the default (empty) quirk table.
func New() *Catalog {
	return &Catalog{quirks: DefaultQuirks}
}

// SetQuirks replaces the suppression table.
func (c *Catalog) SetQuirks(rules []QuirkRule) {
	c.quirks = rules
}

func (c *Catalog) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// IndexBytes parses data as an OTA image (or, for raw-firmware extensions,
// wraps it as one) and appends it to the catalog. path's extension selects
// the format and path is recorded as the entry's Path; for raw-firmware
// variants the (manufacturer, image type, file version) is also recovered
// from path's canonical MMMM-TTTT-VVVVVVVV name, since the raw blob carries
// no header of its own.
func (c *Catalog) IndexBytes(path string, data []byte) (Entry, error) {
	raw, ok := recognizedExt(path)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrInvalidName, path)
	}

	var img *image.Image
	if raw {
		mfc, imageType, fileVersion, err := parseCanonicalName(filepath.Base(path))
		if err != nil {
			return Entry{}, err
		}
		img = image.WrapRawFirmware(data, 0)
		img.ManufacturerCode = mfc
		img.ImageType = imageType
		img.FileVersion = fileVersion
		img.Raw = image.Serialize(img)
	} else {
		parsed, err := image.Parse(data)
		if err != nil {
			return Entry{}, err
		}
		img = parsed
	}

	entry := Entry{
		Manufacturer: img.ManufacturerCode,
		ImageType:    img.ImageType,
		FileVersion:  img.FileVersion,
		Path:         path,
		Image:        img,
	}
	c.entries = append(c.entries, entry)
	return entry, nil
}

func parseCanonicalName(name string) (mfc, imageType uint16, fileVersion uint32, err error) {
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	parts := strings.SplitN(base, "-", 3)
	if len(parts) < 3 {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	var m, t uint64
	var v uint64
	if _, err := fmt.Sscanf(parts[0], "%x", &m); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	if _, err := fmt.Sscanf(parts[1], "%x", &t); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	// parts[2] may carry a trailing "-suffix"; only the first token is the
	// version.
	verToken := parts[2]
	if i := strings.IndexByte(verToken, '-'); i >= 0 {
		verToken = verToken[:i]
	}
	if _, err := fmt.Sscanf(verToken, "%x", &v); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return uint16(m), uint16(t), uint32(v), nil
}

// ScanFS walks dir within fsys, indexing every recognized file. Decode
// failures and unreadable files are logged and the file is dropped, per the
// DecodeError policy in the error-handling design; only an error from
// walking dir itself (for example, dir does not exist) is returned.
func (c *Catalog) ScanFS(fsys fs.FS, dir string) ([]Entry, error) {
	var indexed []Entry
	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := recognizedExt(path); !ok {
			return nil
		}
		data, readErr := fs.ReadFile(fsys, path)
		if readErr != nil {
			c.logf("catalog: read %s: %v", path, readErr)
			return nil
		}
		entry, indexErr := c.IndexBytes(path, data)
		if indexErr != nil {
			c.logf("catalog: drop %s: %v", path, indexErr)
			return nil
		}
		indexed = append(indexed, entry)
		return nil
	})
	return indexed, err
}

// ScanDir scans a real on-disk directory and, for every indexed entry,
// ensures an equivalent ".zigbee"-suffixed path exists (idempotent) so
// downstream tooling that expects the canonical extension finds it.
func (c *Catalog) ScanDir(dir string) ([]Entry, error) {
	entries, err := c.ScanFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, err
	}
	for i := range entries {
		e := &entries[i]
		canonical := CanonicalName(e.Manufacturer, e.ImageType, e.FileVersion) + ".zigbee"
		canonicalPath := filepath.Join(dir, canonical)
		srcPath := filepath.Join(dir, e.Path)
		if canonicalPath == srcPath {
			continue
		}
		if _, statErr := os.Lstat(canonicalPath); statErr == nil {
			continue
		}
		if err := os.Symlink(srcPath, canonicalPath); err != nil {
			c.logf("catalog: alias %s -> %s: %v", canonicalPath, srcPath, err)
		}
	}
	return entries, nil
}

// BestFor returns the entry with the greatest FileVersion strictly greater
// than swVer among entries matching (mfc, imageType), unless a quirk rule
// suppresses it. Ties are broken by insertion order (first inserted wins,
// since later entries must have a strictly greater version to replace the
// current best).
func (c *Catalog) BestFor(mfc, imageType uint16, swVer uint32) (Entry, bool) {
	if c.Suppressed(mfc, imageType, swVer) {
		return Entry{}, false
	}

	var best Entry
	found := false
	for _, e := range c.entries {
		if e.Manufacturer != mfc || e.ImageType != imageType {
			continue
		}
		if e.FileVersion <= swVer {
			continue
		}
		if !found || e.FileVersion > best.FileVersion {
			best = e
			found = true
		}
	}
	return best, found
}

// Suppressed reports whether a quirk rule excludes serving any image to a
// client reporting (mfc, imageType, swVer), independent of whether a
// candidate would otherwise have matched.
func (c *Catalog) Suppressed(mfc, imageType uint16, swVer uint32) bool {
	for _, q := range c.quirks {
		if q.suppresses(mfc, imageType, swVer) {
			return true
		}
	}
	return false
}

// Entries returns a snapshot of all indexed entries.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}
