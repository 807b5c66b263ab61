package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) Mobile/15E148", DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 13; Pixel 7) Mobile Safari/537.36", DeviceMobile},
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) Safari/604.1", DeviceTablet},
		{"Mozilla/5.0 (Linux; Android 13; SM-X700 Tablet) Safari/537.36", DeviceTablet},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0", DeviceDesktop},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15", DeviceDesktop},
		{"", DeviceDesktop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyDevice(tt.ua), "ua=%q", tt.ua)
	}
}

func TestImpressionEventIdentity(t *testing.T) {
	ev := ImpressionEvent{UserID: "u1", SessionID: "s1"}
	assert.Equal(t, "u1", ev.Identity())

	ev = ImpressionEvent{SessionID: "s1"}
	assert.Equal(t, "s1", ev.Identity())
}
