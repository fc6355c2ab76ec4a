package headers

import (
	"errors"
	"fmt"
	"strings"
)

// Fingerprint is what a header set claims about the client that sent it.
type Fingerprint struct {
	Family   Family `json:"family" yaml:"family"`
	Platform string `json:"platform" yaml:"platform"`
	Language string `json:"language" yaml:"language"`
	Secure   bool   `json:"secure" yaml:"secure"` // the set carries secure-context-only headers
}

// Parse reads a header set back into the fingerprint it presents and
// rejects sets whose fields contradict each other.
func Parse(s Set) (Fingerprint, error) {
	ua := s["User-Agent"]
	if ua == "" {
		return Fingerprint{}, errors.New("missing User-Agent")
	}

	fp := Fingerprint{
		Family:   familyOf(ua),
		Platform: platformOf(ua),
		Language: s["Accept-Language"],
		Secure:   s["Sec-Fetch-Site"] != "",
	}
	if fp.Family == "" {
		return Fingerprint{}, fmt.Errorf("unrecognised user agent %q", ua)
	}
	if fp.Language == "" {
		return Fingerprint{}, errors.New("missing Accept-Language")
	}

	hints := s["Sec-Ch-Ua"] != ""
	switch {
	case hints && !fp.Family.chromium():
		return Fingerprint{}, fmt.Errorf("%s user agent with client hints", fp.Family)
	case hints && !fp.Secure:
		return Fingerprint{}, errors.New("client hints without fetch metadata")
	case fp.Secure && fp.Family.chromium() && !hints:
		return Fingerprint{}, errors.New("chromium fetch metadata without client hints")
	}

	if ref := s["Referer"]; ref != "" {
		if !fp.Secure {
			return Fingerprint{}, errors.New("referer on an insecure request")
		}
		if s["Sec-Fetch-Site"] == "none" {
			return Fingerprint{}, errors.New("referer with Sec-Fetch-Site none")
		}
	}

	if p := s["Sec-Ch-Ua-Platform"]; p != "" && strings.Trim(p, `"`) != fp.Platform {
		return Fingerprint{}, fmt.Errorf("platform hint %s does not match user agent", p)
	}
	return fp, nil
}

func familyOf(ua string) Family {
	switch {
	case strings.Contains(ua, "Edg/"):
		return FamilyEdge
	case strings.Contains(ua, "Firefox/"):
		return FamilyFirefox
	case strings.Contains(ua, "Chrome/"):
		return FamilyChrome
	case strings.Contains(ua, "Safari/") && strings.Contains(ua, "Version/"):
		return FamilySafari
	default:
		return ""
	}
}

func platformOf(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return ""
	}
}
