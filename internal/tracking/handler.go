// Package tracking receives engagement events from the outside world: pixel
// opens, redirect clicks, SES notifications pushed through SNS, inbound
// replies, and one-click unsubscribes. The HTTP surface always answers
// success to providers; failures are logged and retried by our own means,
// never by making SNS or a mail client retry.
package tracking

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// pixelGIF is a 1x1 transparent GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler exposes the tracking endpoints.
type Handler struct {
	tracker *Tracker

	// recordAsync detaches event recording from the response so the pixel
	// and redirect return immediately. Tests set it false to record inline.
	recordAsync bool

	// recordTimeout bounds detached recording work.
	recordTimeout time.Duration
}

// NewHandler creates the tracking HTTP handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{
		tracker:       tracker,
		recordAsync:   true,
		recordTimeout: 30 * time.Second,
	}
}

// Routes mounts the tracking endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{trackingId}", h.handleOpen)
	r.Get("/track/click/{trackingId}", h.handleClick)
	r.Post("/track/ses/bounce", h.handleSES)
	r.Post("/track/ses/complaint", h.handleSES)
	r.Post("/track/ses/delivery", h.handleSES)
	r.Post("/track/inbound", h.handleInbound)
	r.Get("/track/unsubscribe/one-click/{messageId}", h.handleUnsubscribe)
	r.Post("/track/unsubscribe/one-click/{messageId}", h.handleUnsubscribe)
	return r
}

// record runs fn inline or in a detached goroutine depending on recordAsync.
// The detached path uses a fresh context so the provider closing its
// connection cannot cancel the write.
func (h *Handler) record(event string, fn func(ctx context.Context) error) {
	if !h.recordAsync {
		if err := fn(context.Background()); err != nil {
			logger.Error("failed to record engagement event", "event", event, "error", err.Error())
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.recordTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Error("failed to record engagement event", "event", event, "error", err.Error())
		}
	}()
}

// handleOpen serves the tracking pixel. The pixel is returned no matter what:
// a broken tracking id must not break image rendering in the recipient's
// client.
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingId")
	if trackingID != "" {
		h.record("open", func(ctx context.Context) error {
			return h.tracker.RecordOpen(ctx, trackingID)
		})
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// handleClick records the click and redirects to the original URL. The
// redirect happens unconditionally so a recording failure never strands the
// recipient on an error page.
func (h *Handler) handleClick(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingId")
	target := r.URL.Query().Get("url")
	if target == "" {
		httputil.BadRequest(w, "missing url parameter")
		return
	}

	if trackingID != "" {
		h.record("click", func(ctx context.Context) error {
			return h.tracker.RecordClick(ctx, trackingID)
		})
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// handleSES processes an SNS push carrying an SES bounce, complaint, or
// delivery notification. SubscriptionConfirmation messages are confirmed by
// fetching the SubscribeURL. The endpoint always answers 200 with a status
// body; returning an error would only make SNS redeliver a payload we cannot
// fix.
func (h *Handler) handleSES(w http.ResponseWriter, r *http.Request) {
	var envelope SNSEnvelope
	if !httputil.Decode(w, r, &envelope) {
		return
	}
	if t := r.Header.Get("x-amz-sns-message-type"); t != "" {
		envelope.Type = t
	}

	if envelope.Type == snsSubscriptionConfirmation {
		logger.Info("confirming SNS subscription", "topic_arn", envelope.TopicArn)
		resp, err := http.Get(envelope.SubscribeURL)
		if err != nil {
			logger.Error("failed to confirm SNS subscription", "error", err.Error())
		} else {
			resp.Body.Close()
		}
		httputil.OK(w, map[string]string{"status": "subscription_confirmed"})
		return
	}

	notification, err := DecodeSESNotification(envelope.Message)
	if err != nil {
		logger.Warn("unparseable SES notification", "error", err.Error())
		httputil.OK(w, map[string]string{"status": "ok"})
		return
	}

	switch notification.NotificationType {
	case "Bounce":
		h.record("bounce", func(ctx context.Context) error {
			return h.tracker.RecordBounce(ctx, notification)
		})
	case "Complaint":
		h.record("complaint", func(ctx context.Context) error {
			return h.tracker.RecordComplaint(ctx, notification)
		})
	case "Delivery":
		h.record("delivery", func(ctx context.Context) error {
			return h.tracker.RecordDelivery(ctx, notification.Mail.MessageID)
		})
	}

	httputil.OK(w, map[string]string{"status": "ok"})
}

// handleInbound receives a parsed inbound email from the reply webhook.
// Always answers ok; an uncorrelatable reply is the tracker's problem, not
// the webhook sender's.
func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	var in InboundEmail
	if !httputil.Decode(w, r, &in) {
		return
	}

	h.record("reply", func(ctx context.Context) error {
		return h.tracker.RecordReply(ctx, in)
	})

	httputil.OK(w, map[string]string{"status": "ok"})
}

// handleUnsubscribe implements RFC 8058 one-click unsubscribe. Mail clients
// POST here without user interaction; browsers GET via the footer link. Both
// always succeed from the caller's point of view.
func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(r, "messageId"))
	if err != nil {
		httputil.BadRequest(w, "invalid message id")
		return
	}

	ip := r.RemoteAddr
	userAgent := r.UserAgent()
	h.record("unsubscribe", func(ctx context.Context) error {
		return h.tracker.RecordUnsubscribe(ctx, messageID, ip, userAgent)
	})

	httputil.OK(w, map[string]string{"status": "unsubscribed"})
}
