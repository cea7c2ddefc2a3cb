package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
)

func TestFromGOOS(t *testing.T) {
	tests := map[string]models.Platform{
		"android": models.PlatformAndroid,
		"ios":     models.PlatformIOS,
		"js":      models.PlatformWeb,
		"wasip1":  models.PlatformWeb,
		"linux":   models.PlatformDesktop,
		"darwin":  models.PlatformDesktop,
		"windows": models.PlatformDesktop,
		"plan9":   models.PlatformUnknown,
	}
	for goos, want := range tests {
		assert.Equal(t, want, FromGOOS(goos), goos)
	}
}

func TestDetect(t *testing.T) {
	d := &Detector{goos: "linux", goarch: "arm64", hostname: func() (string, error) { return "pi", nil }}
	p, info := d.Detect()
	assert.Equal(t, models.PlatformDesktop, p)
	assert.Equal(t, "linux/arm64 (pi)", info)

	d.hostname = func() (string, error) { return "", errors.New("no host") }
	_, info = d.Detect()
	assert.Equal(t, "linux/arm64", info)

	p, _ = NewDetector().Detect()
	assert.True(t, p.Valid())
}
