package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the slice of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detection names the bot wall that answered instead of the page.
type Detection struct {
	Source string
	Reason string
}

// Detector examines a response and reports a bot wall, or nil.
type Detector func(res *Response) *Detection

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectCaptcha,
	}
}

// Analyze runs the detectors in order and returns the first hit, or nil when
// the response looks like real content.
func Analyze(res *Response, detectors []Detector) *Detection {
	if res == nil {
		return nil
	}
	for _, d := range detectors {
		if hit := d(res); hit != nil {
			return hit
		}
	}
	return nil
}

func header(res *Response, key string) string {
	if res.Header == nil {
		return ""
	}
	return res.Header.Get(key)
}

func serverContains(res *Response, s string) bool {
	return strings.Contains(strings.ToLower(header(res, "Server")), s)
}

func bodyContains(res *Response, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(res.Body, []byte(n)) {
			return true
		}
	}
	return false
}

func detectCloudflare(res *Response) *Detection {
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return nil
	}
	if serverContains(res, "cloudflare") || header(res, "Cf-Mitigated") == "challenge" {
		return &Detection{Source: "Cloudflare", Reason: "challenge status from cloudflare edge"}
	}
	if bodyContains(res, "cf-browser-verification", "cloudflare-nginx", "cf-turnstile", "Attention Required! | Cloudflare", "Just a moment...") {
		return &Detection{Source: "Cloudflare", Reason: "challenge page"}
	}
	return nil
}

func detectAkamai(res *Response) *Detection {
	if res.StatusCode != http.StatusForbidden {
		return nil
	}
	if serverContains(res, "akamai") {
		return &Detection{Source: "Akamai", Reason: "forbidden by akamai edge"}
	}
	// generic "Reference #" block page
	if bodyContains(res, "Reference #") && bodyContains(res, "Access Denied") {
		return &Detection{Source: "Akamai", Reason: "access denied page"}
	}
	return nil
}

func detectDataDome(res *Response) *Detection {
	if res.StatusCode != http.StatusForbidden {
		return nil
	}
	if serverContains(res, "datadome") || header(res, "X-DataDome") != "" || header(res, "X-DataDome-Response") != "" {
		return &Detection{Source: "DataDome", Reason: "datadome headers"}
	}
	if bodyContains(res, "geo.captcha-delivery.com", "datadome") {
		return &Detection{Source: "DataDome", Reason: "captcha delivery page"}
	}
	return nil
}

func detectPerimeterX(res *Response) *Detection {
	if res.StatusCode != http.StatusForbidden {
		return nil
	}
	if header(res, "X-Px-Captcha") != "" {
		return &Detection{Source: "PerimeterX", Reason: "px captcha header"}
	}
	if bodyContains(res, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return &Detection{Source: "PerimeterX", Reason: "px block page"}
	}
	return nil
}

// detectCaptcha catches forum login/captcha interstitials served with 200,
// common on the community sites the queries target.
func detectCaptcha(res *Response) *Detection {
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	if res.StatusCode == http.StatusTooManyRequests {
		return &Detection{Source: "RateLimit", Reason: "too many requests"}
	}
	if len(res.Body) > 64*1024 {
		return nil
	}
	if bodyContains(res, "g-recaptcha", "h-captcha", "hcaptcha.com/1/api.js") &&
		bodyContains(res, "verify you are human", "Verify you are human", "are you a robot", "Are you a robot") {
		return &Detection{Source: "Captcha", Reason: "human verification interstitial"}
	}
	return nil
}
