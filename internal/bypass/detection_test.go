package bypass

import (
	"net/http"
	"strings"
	"testing"
)

func resp(status int, hdr map[string]string, body string) *Response {
	h := http.Header{}
	for k, v := range hdr {
		h.Set(k, v)
	}
	return &Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func TestDetectCloudflare(t *testing.T) {
	if d := detectCloudflare(resp(403, map[string]string{"Server": "cloudflare"}, "")); d == nil || d.Source != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by header")
	}
	if d := detectCloudflare(resp(503, nil, "<title>Just a moment...</title>")); d == nil {
		t.Errorf("expected Cloudflare detection by interstitial body")
	}
	if d := detectCloudflare(resp(200, map[string]string{"Server": "cloudflare"}, "ok")); d != nil {
		t.Errorf("expected no detection on 200, got %+v", d)
	}
}

func TestDetectAkamai(t *testing.T) {
	if d := detectAkamai(resp(403, map[string]string{"Server": "AkamaiGHost"}, "")); d == nil || d.Source != "Akamai" {
		t.Errorf("expected Akamai detection by header")
	}
	if d := detectAkamai(resp(403, nil, "<h1>Access Denied</h1> Reference #18.abc")); d == nil {
		t.Errorf("expected Akamai detection by body")
	}
}

func TestDetectDataDome(t *testing.T) {
	if d := detectDataDome(resp(403, map[string]string{"X-DataDome": "1"}, "")); d == nil || d.Source != "DataDome" {
		t.Errorf("expected DataDome detection by header")
	}
	if d := detectDataDome(resp(403, nil, `<script src="https://geo.captcha-delivery.com/x.js">`)); d == nil {
		t.Errorf("expected DataDome detection by body")
	}
}

func TestDetectPerimeterX(t *testing.T) {
	if d := detectPerimeterX(resp(403, map[string]string{"X-Px-Captcha": "required"}, "")); d == nil || d.Source != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by header")
	}
	if d := detectPerimeterX(resp(403, nil, "window._pxBlock = true;")); d == nil {
		t.Errorf("expected PerimeterX detection by body")
	}
}

func TestDetectCaptcha(t *testing.T) {
	body := `<div class="g-recaptcha"></div><p>Please verify you are human</p>`
	if d := detectCaptcha(resp(200, nil, body)); d == nil || d.Source != "Captcha" {
		t.Errorf("expected captcha interstitial detection")
	}
	if d := detectCaptcha(resp(429, nil, "")); d == nil || d.Source != "RateLimit" {
		t.Errorf("expected 429 to be treated as a wall")
	}
	// A long thread that merely embeds a captcha widget is content.
	long := body + strings.Repeat("vaccine discussion ", 5000)
	if d := detectCaptcha(resp(200, nil, long)); d != nil {
		t.Errorf("expected no detection on large page, got %+v", d)
	}
}

func TestAnalyze(t *testing.T) {
	detectors := DefaultDetectors()

	hit := Analyze(resp(403, map[string]string{"X-DataDome": "1"}, ""), detectors)
	if hit == nil || hit.Source != "DataDome" {
		t.Errorf("expected DataDome, got %+v", hit)
	}

	if hit := Analyze(resp(200, nil, "<html>hello</html>"), detectors); hit != nil {
		t.Errorf("expected clean page, got %+v", hit)
	}
	if hit := Analyze(nil, detectors); hit != nil {
		t.Errorf("expected nil for nil response")
	}
}
