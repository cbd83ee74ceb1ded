package crucible

import (
	"github.com/gookit/color"
)

// Global variables
var (
	Debug     bool
	version   = "dev"     // default version; overridden at build time
	buildDate = "unknown" // overridden at build time

	ConfigFile = "/etc/crucible.conf"

	// Base URL of the bucket holding the prebuilt tool archives.
	toolsBucketURL = "https://commondatastorage.googleapis.com/chromium-browser-clang"
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
