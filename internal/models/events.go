package models

import (
	"strings"
	"time"
)

// Device classes derived from the user agent.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// ClassifyDevice buckets a raw user-agent string into mobile, tablet or
// desktop. Matching is case-insensitive; tablet markers take precedence
// over mobile markers ("iPad ... Mobile" is a tablet). Anything else,
// including an empty UA, counts as desktop.
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet") {
		return DeviceTablet
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return DeviceMobile
	}
	return DeviceDesktop
}

// ImpressionEvent is one ad view, optionally upgraded to a click and a
// conversion later. The Event Store keeps one row per view.
type ImpressionEvent struct {
	ID               string     `json:"id"`
	AdID             string     `json:"ad_id"`
	UserID           string     `json:"user_id,omitempty"`
	SessionID        string     `json:"session_id,omitempty"`
	Page             string     `json:"page"`
	BusinessCategory string     `json:"business_category"`
	Device           string     `json:"device"`
	Country          string     `json:"country,omitempty"`
	Clicked          bool       `json:"clicked"`
	ClickedAt        *time.Time `json:"clicked_at,omitempty"`
	Converted        bool       `json:"converted"`
	ConvertedAt      *time.Time `json:"converted_at,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	UserAgent        string     `json:"user_agent,omitempty"`
	IP               string     `json:"ip,omitempty"`
	Referrer         string     `json:"referrer,omitempty"`
}

// Identity returns the frequency-capping identity: the authenticated
// user when present, otherwise the session.
func (e *ImpressionEvent) Identity() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.SessionID
}
