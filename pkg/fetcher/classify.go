package fetcher

import (
	"bytes"
	"strings"
)

// Detector is a single yes/no judgment about a response.
type Detector interface {
	Detect(r *Response) bool
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(r *Response) bool

func (f DetectorFunc) Detect(r *Response) bool { return f(r) }

// PhishingDetector looks for the CDN phishing interstitial marker inside a
// fixed window of the body.
type PhishingDetector struct {
	Marker string
	Start  int
	End    int
}

// DefaultPhishingDetector matches Cloudflare's "Suspected Phishing" page.
func DefaultPhishingDetector() PhishingDetector {
	return PhishingDetector{
		Marker: "suspected phishing site | cloudflare",
		Start:  250,
		End:    450,
	}
}

// Detect reports whether the marker appears in body[Start:End], ignoring
// case. Bodies shorter than Start never match.
func (d PhishingDetector) Detect(r *Response) bool {
	if r == nil || d.Marker == "" {
		return false
	}
	start, end := d.Start, d.End
	if end > len(r.Body) {
		end = len(r.Body)
	}
	if start < 0 {
		start = 0
	}
	if start >= end {
		return false
	}
	window := bytes.ToLower(r.Body[start:end])
	return bytes.Contains(window, []byte(strings.ToLower(d.Marker)))
}

// ChallengeDetector matches the anti-bot vendor in the Server header.
type ChallengeDetector struct {
	Vendor string
}

// DefaultChallengeDetector matches Cloudflare.
func DefaultChallengeDetector() ChallengeDetector {
	return ChallengeDetector{Vendor: "cloudflare"}
}

// Detect reports whether the Server header contains the vendor, ignoring case.
func (d ChallengeDetector) Detect(r *Response) bool {
	if d.Vendor == "" {
		return false
	}
	return strings.Contains(r.Server(), strings.ToLower(d.Vendor))
}

// Classifier answers the two questions the orchestrator asks of every
// response. Either detector can be replaced without touching orchestration.
type Classifier struct {
	Phishing  Detector
	Challenge Detector
}

// DefaultClassifier returns the Cloudflare phishing and challenge detectors.
func DefaultClassifier() Classifier {
	return Classifier{
		Phishing:  DefaultPhishingDetector(),
		Challenge: DefaultChallengeDetector(),
	}
}

// IsPhishingFlagged reports whether r is a phishing interstitial.
func (c Classifier) IsPhishingFlagged(r *Response) bool {
	return c.Phishing != nil && c.Phishing.Detect(r)
}

// IsChallengeProtected reports whether r is served by the anti-bot layer.
func (c Classifier) IsChallengeProtected(r *Response) bool {
	return c.Challenge != nil && c.Challenge.Detect(r)
}

// ChallengeType names the kind of challenge page in r's body, or "" when
// none is recognised. It only feeds logging.
func ChallengeType(r *Response) string {
	if r == nil {
		return ""
	}
	html := strings.ToLower(string(r.Body))
	title := htmlTitle(html)

	switch {
	case strings.Contains(title, "just a moment"),
		strings.Contains(title, "attention required"),
		strings.Contains(html, "cf-challenge"),
		strings.Contains(html, "cf_chl_opt"):
		return "cloudflare"
	case strings.Contains(html, "challenges.cloudflare.com/turnstile"),
		strings.Contains(html, "cf-turnstile"):
		return "cloudflare-turnstile"
	case strings.Contains(html, "hcaptcha.com"),
		strings.Contains(html, "h-captcha"):
		return "hcaptcha"
	case strings.Contains(html, "google.com/recaptcha"),
		strings.Contains(html, "g-recaptcha"):
		return "recaptcha"
	case strings.Contains(title, "access denied"),
		strings.Contains(title, "bot detection"),
		strings.Contains(html, "robot or human"):
		return "anti-bot"
	}
	return ""
}

// htmlTitle returns the text of the first <title> element of a lower-cased
// document.
func htmlTitle(html string) string {
	start := strings.Index(html, "<title")
	if start < 0 {
		return ""
	}
	open := strings.IndexByte(html[start:], '>')
	if open < 0 {
		return ""
	}
	rest := html[start+open+1:]
	end := strings.Index(rest, "</title>")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
