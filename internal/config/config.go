// Package config loads otauserver/otauctl's configuration from a .env
// file and command-line flags. Grounded on
// guiperry-HASHER/pipeline/1_DATA_MINER/internal/app.ParseFlags: LoadEnv
// first, then flag.*Var defaults sourced from the env-populated struct.
package config

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/anthropics/purple-otau/pkg/protocol"
)

// Config is otauserver's full runtime configuration.
type Config struct {
	ImageDir   string
	StoreDB    string
	ListenAddr string // stored only; otauserver opens no listener

	MaxActive   int
	PageSpacing int // ms, from -fast-page-spacing; not carried into protocol.Config

	UpgradeTime        uint32
	AllowSleepyDevices bool

	ExtraNoAckStatus uint8

	VendorWDTReset      bool
	VendorManufacturer  uint16
	VendorImageType     uint16
	VendorWDTResetDelay uint32
}

// Load reads .env (if present, logging and continuing if absent, matching
// the teacher's LoadEnv) and then command-line flags, which take
// precedence over environment defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found")
	}

	cfg := &Config{
		ImageDir:            envOr("OTAU_IMAGE_DIR", "./images"),
		StoreDB:             envOr("OTAU_STORE_DB", "./otau.db"),
		ListenAddr:          envOr("OTAU_LISTEN_ADDR", ""),
		MaxActive:           4,
		PageSpacing:         0,
		UpgradeTime:         protocol.DefaultUpgradeTime,
		AllowSleepyDevices:  false,
		VendorWDTReset:      false,
		VendorWDTResetDelay: 3,
	}

	flag.StringVar(&cfg.ImageDir, "image-dir", cfg.ImageDir, "directory of OTA image files to serve")
	flag.StringVar(&cfg.StoreDB, "store-db", cfg.StoreDB, "bbolt database path for client/catalog persistence")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address (stored in the config only; otauserver opens no listener)")
	flag.IntVar(&cfg.MaxActive, "max-active", cfg.MaxActive, "OTAU_MAX_ACTIVE: concurrent transfer admission limit")
	flag.IntVar(&cfg.PageSpacing, "fast-page-spacing", cfg.PageSpacing, "page response spacing (ms); parsed but not applied: the engine clamps each page request's own spacing to 20-500 ms")
	flag.BoolVar(&cfg.AllowSleepyDevices, "allow-sleepy-devices", cfg.AllowSleepyDevices, "permit updates for non-rx-on-when-idle clients")
	flag.BoolVar(&cfg.VendorWDTReset, "vendor-wdt-reset", cfg.VendorWDTReset, "enable the VENDOR_DDEL/FLS_NB watchdog-reset workaround")

	upgradeTime := uint(cfg.UpgradeTime)
	var extraNoAck, vendorMfc, vendorImgType uint
	flag.UintVar(&upgradeTime, "upgrade-restart-time", upgradeTime, "seconds reported in UpgradeEndResponse.upgradeTime")
	flag.UintVar(&extraNoAck, "extra-no-ack-status", 0, "an additional APS confirm status to treat as no-ack")
	flag.UintVar(&vendorMfc, "vendor-manufacturer", 0, "manufacturer code that triggers the WDT-reset workaround")
	flag.UintVar(&vendorImgType, "vendor-image-type", 0, "image type that triggers the WDT-reset workaround")
	flag.Parse()

	cfg.UpgradeTime = uint32(upgradeTime)
	cfg.ExtraNoAckStatus = uint8(extraNoAck)
	cfg.VendorManufacturer = uint16(vendorMfc)
	cfg.VendorImageType = uint16(vendorImgType)

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ToProtocolConfig builds a protocol.Config from these settings, the same
// way otauserver wires it into the Engine.
func (c *Config) ToProtocolConfig() protocol.Config {
	pc := protocol.DefaultConfig()
	pc.UpgradeTime = c.UpgradeTime
	pc.AllowSleepyDevices = c.AllowSleepyDevices
	pc.ExtraNoAckStatus = c.ExtraNoAckStatus
	pc.VendorWDTReset = c.VendorWDTReset
	pc.VendorManufacturer = c.VendorManufacturer
	pc.VendorImageType = c.VendorImageType
	pc.VendorWDTResetDelay = c.VendorWDTResetDelay
	return pc
}
