package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyUserAgent(t *testing.T) {
	cases := []struct {
		name    string
		ua      string
		device  string
		browser string
		os      string
	}{
		{
			name:    "windows chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			device:  "desktop",
			browser: "chrome",
			os:      "windows",
		},
		{
			name:    "iphone safari",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			device:  "mobile",
			browser: "safari",
			os:      "ios",
		},
		{
			name:    "android firefox",
			ua:      "Mozilla/5.0 (Android 14; Mobile; rv:121.0) Gecko/121.0 Firefox/121.0",
			device:  "mobile",
			browser: "firefox",
			os:      "android",
		},
		{
			name:    "ipad",
			ua:      "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/604.1",
			device:  "tablet",
			browser: "safari",
			os:      "ios",
		},
		{
			name:    "windows edge",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			device:  "desktop",
			browser: "edge",
			os:      "windows",
		},
		{
			name:    "empty",
			ua:      "",
			device:  "unknown",
			browser: "unknown",
			os:      "unknown",
		},
		{
			name:    "garbage",
			ua:      "curl/8.4.0",
			device:  "desktop",
			browser: "unknown",
			os:      "unknown",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ClassifyUserAgent(tc.ua)
			assert.Equal(t, tc.device, p.DeviceClass)
			assert.Equal(t, tc.browser, p.Browser)
			assert.Equal(t, tc.os, p.OS)
		})
	}
}
