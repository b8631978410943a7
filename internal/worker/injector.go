package worker

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// TrackingInjector rewrites outgoing HTML so engagement comes back to our
// tracking endpoints: an open pixel, click-wrapped links, and an unsubscribe
// footer. The message id is the tracking token for all three.
type TrackingInjector struct {
	baseURL string
}

// NewTrackingInjector creates an injector rooted at the public tracking base
// URL, e.g. "https://track.example.com".
func NewTrackingInjector(baseURL string) *TrackingInjector {
	return &TrackingInjector{baseURL: strings.TrimRight(baseURL, "/")}
}

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// Inject adds the open pixel and click tracking to an HTML body.
func (ti *TrackingInjector) Inject(html string, messageID uuid.UUID) string {
	html = ti.wrapLinks(html, messageID)

	pixel := fmt.Sprintf(`<img src="%s/track/open/%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`,
		ti.baseURL, messageID)
	if idx := strings.LastIndex(html, "</body>"); idx >= 0 {
		html = html[:idx] + pixel + html[idx:]
	} else {
		html += pixel
	}
	return html
}

// wrapLinks replaces every absolute href with a click-tracking redirect.
// Links already pointing at the tracking host are left alone so unsubscribe
// and pixel URLs never get double-wrapped.
func (ti *TrackingInjector) wrapLinks(html string, messageID uuid.UUID) string {
	return hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		original := hrefPattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(original, ti.baseURL+"/track/") {
			return match
		}
		tracked := fmt.Sprintf("%s/track/click/%s?url=%s",
			ti.baseURL, messageID, url.QueryEscape(original))
		return fmt.Sprintf(`href="%s"`, tracked)
	})
}

// UnsubscribeURL returns the one-click unsubscribe endpoint for a message.
func (ti *TrackingInjector) UnsubscribeURL(messageID uuid.UUID) string {
	return fmt.Sprintf("%s/track/unsubscribe/one-click/%s", ti.baseURL, messageID)
}

// AppendUnsubscribeFooter adds a visible unsubscribe link for clients that do
// not surface the List-Unsubscribe header.
func (ti *TrackingInjector) AppendUnsubscribeFooter(html string, messageID uuid.UUID) string {
	footer := fmt.Sprintf(
		`<p style="font-size:11px;color:#999;margin-top:24px">If you'd rather not hear from us, <a href="%s">unsubscribe here</a>.</p>`,
		ti.UnsubscribeURL(messageID))
	if idx := strings.LastIndex(html, "</body>"); idx >= 0 {
		return html[:idx] + footer + html[idx:]
	}
	return html + footer
}
