package worker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestInjectAddsPixelBeforeBodyClose(t *testing.T) {
	ti := NewTrackingInjector("https://track.example.com/")
	id := uuid.New()

	out := ti.Inject("<html><body><p>hi</p></body></html>", id)

	pixel := fmt.Sprintf("https://track.example.com/track/open/%s", id)
	assert.Contains(t, out, pixel)
	// Pixel sits inside the body, not after it.
	assert.Less(t, strings.Index(out, pixel), strings.Index(out, "</body>"))
}

func TestInjectWithoutBodyTagAppends(t *testing.T) {
	ti := NewTrackingInjector("https://track.example.com")
	id := uuid.New()

	out := ti.Inject("<p>hi</p>", id)
	assert.True(t, strings.HasSuffix(out, "/>"))
	assert.Contains(t, out, fmt.Sprintf("/track/open/%s", id))
}

func TestInjectWrapsLinks(t *testing.T) {
	ti := NewTrackingInjector("https://track.example.com")
	id := uuid.New()

	out := ti.Inject(`<body><a href="https://example.com/pricing?plan=pro">pricing</a></body>`, id)

	assert.Contains(t, out,
		fmt.Sprintf(`href="https://track.example.com/track/click/%s?url=https%%3A%%2F%%2Fexample.com%%2Fpricing%%3Fplan%%3Dpro"`, id))
	assert.NotContains(t, out, `href="https://example.com/pricing`)
}

func TestInjectLeavesTrackingLinksAlone(t *testing.T) {
	ti := NewTrackingInjector("https://track.example.com")
	id := uuid.New()

	// The unsubscribe footer is added before Inject; it must not be wrapped.
	html := ti.AppendUnsubscribeFooter("<body><p>hi</p></body>", id)
	out := ti.Inject(html, id)

	unsub := ti.UnsubscribeURL(id)
	assert.Contains(t, out, fmt.Sprintf(`href="%s"`, unsub))
	assert.NotContains(t, out, "url=https%3A%2F%2Ftrack.example.com")
}

func TestInjectLeavesRelativeLinksAlone(t *testing.T) {
	ti := NewTrackingInjector("https://track.example.com")

	out := ti.Inject(`<body><a href="/local">x</a><a href="mailto:a@b.com">m</a></body>`, uuid.New())
	assert.Contains(t, out, `href="/local"`)
	assert.Contains(t, out, `href="mailto:a@b.com"`)
}

func TestAppendUnsubscribeFooter(t *testing.T) {
	ti := NewTrackingInjector("https://track.example.com")
	id := uuid.New()

	out := ti.AppendUnsubscribeFooter("<html><body><p>offer</p></body></html>", id)

	assert.Contains(t, out, "unsubscribe here")
	assert.Contains(t, out, fmt.Sprintf("/track/unsubscribe/one-click/%s", id))
	assert.Less(t, strings.Index(out, "unsubscribe here"), strings.Index(out, "</body>"))
}

func TestUnsubscribeURL(t *testing.T) {
	ti := NewTrackingInjector("https://track.example.com/")
	id := uuid.New()
	assert.Equal(t,
		fmt.Sprintf("https://track.example.com/track/unsubscribe/one-click/%s", id),
		ti.UnsubscribeURL(id))
}
