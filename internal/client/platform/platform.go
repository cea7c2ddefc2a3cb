// Package platform reports what kind of device new bug reports come from.
package platform

import (
	"fmt"
	"os"
	"runtime"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
)

// Detector maps the Go runtime's view of the host onto models.Platform.
type Detector struct {
	goos     string
	goarch   string
	hostname func() (string, error)
}

func NewDetector() *Detector {
	return &Detector{goos: runtime.GOOS, goarch: runtime.GOARCH, hostname: os.Hostname}
}

// Detect returns the platform and a short device description such as
// "linux/amd64 (build-01)".
func (d *Detector) Detect() (models.Platform, string) {
	info := d.goos + "/" + d.goarch
	if h, err := d.hostname(); err == nil && h != "" {
		info = fmt.Sprintf("%s (%s)", info, h)
	}
	return FromGOOS(d.goos), info
}

func FromGOOS(goos string) models.Platform {
	switch goos {
	case "android":
		return models.PlatformAndroid
	case "ios":
		return models.PlatformIOS
	case "js", "wasip1":
		return models.PlatformWeb
	case "linux", "darwin", "windows", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos":
		return models.PlatformDesktop
	}
	return models.PlatformUnknown
}
