package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// ClientContext carries the environment signals a client submits with login
// and provisioning requests. The derived fingerprint is a best-effort,
// non-cryptographic heuristic: good enough for convenience login, never an
// authorization boundary.
type ClientContext struct {
	UserAgent      string
	Locale         string
	ScreenWidth    int
	ScreenHeight   int
	TimezoneOffset int
	CanvasHash     string

	// IPAddress is the originating network address when already known;
	// otherwise the service performs a best-effort lookup.
	IPAddress string
}

// Fingerprint combines the client signals into a 32-character weak device
// identifier. Deterministic for identical signals.
func (c ClientContext) Fingerprint() string {
	joined := strings.Join([]string{
		c.UserAgent,
		c.Locale,
		fmt.Sprintf("%dx%d", c.ScreenWidth, c.ScreenHeight),
		fmt.Sprintf("%d", c.TimezoneOffset),
		c.CanvasHash,
	}, "|")
	sum := sha256.Sum256([]byte(joined))
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])
	if len(encoded) > 32 {
		encoded = encoded[:32]
	}
	return encoded
}

// DeviceName derives a friendly device-class label from the user agent.
func (c ClientContext) DeviceName() string {
	ua := c.UserAgent
	switch {
	case strings.Contains(ua, "iPad"):
		return "iPad"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPod"):
		return "iPhone"
	case strings.Contains(ua, "Android"):
		return "Android Device"
	case strings.Contains(ua, "Mac"):
		return "Mac"
	case strings.Contains(ua, "Windows"):
		return "Windows PC"
	}
	return "Unknown Device"
}
