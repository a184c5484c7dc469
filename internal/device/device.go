// Package device derives best-effort device/browser/OS hints from a
// User-Agent string. The result is lossy and non-authoritative: callers
// record it for display and audit, never for admission decisions.
package device

import (
	"strings"

	"session-control-plane/internal/session/domain"
)

// Unknown is the closed fallback for any field the parser cannot classify.
const Unknown = "Unknown"

// Parse classifies ua into device type, browser, and OS. It never fails;
// unrecognized or empty input yields Unknown in every field.
func Parse(ua string) domain.DeviceInfo {
	info := domain.DeviceInfo{DeviceType: Unknown, Browser: Unknown, OS: Unknown}
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return info
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		info.DeviceType = "Tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		info.DeviceType = "Mobile"
	case strings.Contains(ua, "bot") || strings.Contains(ua, "crawler") || strings.Contains(ua, "spider"):
		info.DeviceType = "Bot"
	case strings.Contains(ua, "mozilla") || strings.Contains(ua, "opera"):
		info.DeviceType = "Desktop"
	}

	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		info.Browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "chrome"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		info.OS = "iOS"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		info.OS = "macOS"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	return info
}
