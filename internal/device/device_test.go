package device

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		ua         string
		deviceType string
		browser    string
		os         string
	}{
		{
			name:       "chrome on windows",
			ua:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			deviceType: "Desktop", browser: "Chrome", os: "Windows",
		},
		{
			name:       "safari on iphone",
			ua:         "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1",
			deviceType: "Mobile", browser: "Safari", os: "iOS",
		},
		{
			name:       "firefox on linux",
			ua:         "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			deviceType: "Desktop", browser: "Firefox", os: "Linux",
		},
		{
			name:       "edge on mac",
			ua:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0",
			deviceType: "Desktop", browser: "Edge", os: "macOS",
		},
		{
			name:       "android tablet",
			ua:         "Mozilla/5.0 (Linux; Android 13; SM-X700 Tablet) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
			deviceType: "Tablet", browser: "Chrome", os: "Android",
		},
		{
			name:       "empty",
			ua:         "",
			deviceType: Unknown, browser: Unknown, os: Unknown,
		},
		{
			name:       "garbage",
			ua:         "curl/8.4.0",
			deviceType: Unknown, browser: Unknown, os: Unknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.ua)
			if got.DeviceType != tt.deviceType {
				t.Errorf("DeviceType = %q, want %q", got.DeviceType, tt.deviceType)
			}
			if got.Browser != tt.browser {
				t.Errorf("Browser = %q, want %q", got.Browser, tt.browser)
			}
			if got.OS != tt.os {
				t.Errorf("OS = %q, want %q", got.OS, tt.os)
			}
		})
	}
}
