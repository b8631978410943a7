package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/campaign"
)

func handlerFixture(t *testing.T) (*fakeTrackerStore, http.Handler) {
	t.Helper()
	store := newFakeTrackerStore()
	h := NewHandler(NewTracker(store, nil, DefaultThresholds()))
	h.recordAsync = false
	return store, h.Routes()
}

func TestHandleOpenServesPixel(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	req := httptest.NewRequest(http.MethodGet, "/track/open/"+msg.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	assert.Equal(t, campaign.MessageOpened, msg.Status)
}

func TestHandleOpenUnknownIDStillServesPixel(t *testing.T) {
	store, router := handlerFixture(t)
	store.seed()

	req := httptest.NewRequest(http.MethodGet, "/track/open/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// The pixel must render in the mail client no matter what.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
}

func TestHandleClickRedirects(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	req := httptest.NewRequest(http.MethodGet,
		"/track/click/"+msg.ID.String()+"?url=https%3A%2F%2Fexample.com%2Fpricing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/pricing", rec.Header().Get("Location"))
	assert.Equal(t, campaign.MessageClicked, msg.Status)
}

func TestHandleClickMissingURL(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	req := httptest.NewRequest(http.MethodGet, "/track/click/"+msg.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, campaign.MessageClicked, msg.Status)
}

func TestHandleClickUnknownIDStillRedirects(t *testing.T) {
	store, router := handlerFixture(t)
	store.seed()

	req := httptest.NewRequest(http.MethodGet,
		"/track/click/"+uuid.New().String()+"?url=https%3A%2F%2Fexample.com", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
}

func postSNS(t *testing.T, router http.Handler, path string, envelope SNSEnvelope) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleSESSubscriptionConfirmation(t *testing.T) {
	var confirmed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		confirmed.Store(true)
	}))
	defer srv.Close()

	_, router := handlerFixture(t)
	rec := postSNS(t, router, "/track/ses/bounce", SNSEnvelope{
		Type:         "SubscriptionConfirmation",
		TopicArn:     "arn:aws:sns:us-east-1:123456789:ses-events",
		SubscribeURL: srv.URL,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, confirmed.Load())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscription_confirmed", body["status"])
}

func TestHandleSESBounceNotification(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	inner := `{
		"notificationType": "Bounce",
		"mail": {"messageId": "ses-msg-001"},
		"bounce": {
			"bounceType": "Permanent",
			"bouncedRecipients": [{"emailAddress": "lead@example.com"}]
		}
	}`
	rec := postSNS(t, router, "/track/ses/bounce", SNSEnvelope{
		Type:    "Notification",
		Message: inner,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, campaign.MessageBounced, msg.Status)
	assert.Equal(t, campaign.ReasonBounce, store.suppressions["lead@example.com"])
}

func TestHandleSESDeliveryNotification(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	inner := `{"notificationType": "Delivery", "mail": {"messageId": "ses-msg-001"}, "delivery": {"recipients": ["lead@example.com"]}}`
	rec := postSNS(t, router, "/track/ses/delivery", SNSEnvelope{
		Type:    "Notification",
		Message: inner,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, campaign.MessageDelivered, msg.Status)
}

func TestHandleSESUnparseableMessageStillOK(t *testing.T) {
	_, router := handlerFixture(t)

	rec := postSNS(t, router, "/track/ses/bounce", SNSEnvelope{
		Type:    "Notification",
		Message: "this is not json",
	})

	// SNS must never be told to redeliver a payload we cannot parse.
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleSESHeaderOverridesType(t *testing.T) {
	var confirmed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		confirmed.Store(true)
	}))
	defer srv.Close()

	_, router := handlerFixture(t)

	body, err := json.Marshal(SNSEnvelope{SubscribeURL: srv.URL})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/track/ses/complaint", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-amz-sns-message-type", "SubscriptionConfirmation")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, confirmed.Load())
}

func TestHandleInbound(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	in := InboundEmail{
		From:    "lead@example.com",
		Headers: map[string]string{"In-Reply-To": "<ses-msg-001>"},
		Text:    "yes please",
	}
	body, err := json.Marshal(in)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/track/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, campaign.MessageReplied, msg.Status)
	assert.Equal(t, "yes please", msg.ReplyBody)
}

func TestHandleUnsubscribePost(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/track/unsubscribe/one-click/%s", msg.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unsubscribed", body["status"])
	assert.Equal(t, campaign.ReasonUnsubscribe, store.suppressions["lead@example.com"])
}

func TestHandleUnsubscribeGet(t *testing.T) {
	store, router := handlerFixture(t)
	_, msg := store.seed()

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/track/unsubscribe/one-click/%s", msg.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.counters["unsubscribed"])
}

func TestHandleUnsubscribeBadID(t *testing.T) {
	_, router := handlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/track/unsubscribe/one-click/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
