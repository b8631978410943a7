package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferencedMessageIDsOrder(t *testing.T) {
	in := InboundEmail{Headers: map[string]string{
		"In-Reply-To": "<direct-parent@ses>",
		"References":  "<thread-root@ses> <middle@ses> <direct-parent@ses>",
	}}

	// Direct parent first, then References walked newest to oldest, deduped.
	assert.Equal(t,
		[]string{"direct-parent@ses", "middle@ses", "thread-root@ses"},
		in.ReferencedMessageIDs())
}

func TestReferencedMessageIDsCaseInsensitiveHeaders(t *testing.T) {
	in := InboundEmail{Headers: map[string]string{"in-reply-to": "<abc@ses>"}}
	assert.Equal(t, []string{"abc@ses"}, in.ReferencedMessageIDs())
}

func TestReferencedMessageIDsEmpty(t *testing.T) {
	assert.Empty(t, InboundEmail{}.ReferencedMessageIDs())
	assert.Empty(t, InboundEmail{Headers: map[string]string{"In-Reply-To": "no angle brackets"}}.ReferencedMessageIDs())
}

func TestInboundEmailBodyPrefersText(t *testing.T) {
	in := InboundEmail{Text: "plain", HTML: "<p>html</p>"}
	assert.Equal(t, "plain", in.Body())

	in = InboundEmail{Text: "   ", HTML: "<p>html</p>"}
	assert.Equal(t, "<p>html</p>", in.Body())
}

func TestDecodeSESNotificationVariantCheck(t *testing.T) {
	n, err := DecodeSESNotification(`{
		"notificationType": "Bounce",
		"mail": {"messageId": "m1"},
		"bounce": {"bounceType": "Permanent", "bouncedRecipients": [{"emailAddress": "a@b.com"}]}
	}`)
	require.NoError(t, err)
	assert.Equal(t, "m1", n.Mail.MessageID)
	require.NotNil(t, n.Bounce)
	assert.Equal(t, "Permanent", n.Bounce.BounceType)

	// Tag without its payload is rejected.
	_, err = DecodeSESNotification(`{"notificationType": "Bounce", "mail": {"messageId": "m1"}}`)
	assert.Error(t, err)

	_, err = DecodeSESNotification(`{"notificationType": "Open", "mail": {"messageId": "m1"}}`)
	assert.Error(t, err)

	_, err = DecodeSESNotification("not json")
	assert.Error(t, err)
}
