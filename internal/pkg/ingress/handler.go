package ingress

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// SignatureHeaderName is the header carrying the provider signature.
const SignatureHeaderName = "Stripe-Signature"

// Submitter enqueues a raw webhook payload as one task.
type Submitter interface {
	Submit(ctx context.Context, queue string, payload []byte) (string, error)
}

// Handler verifies provider webhooks and hands them to the task queue.
type Handler struct {
	queue         Submitter
	queueName     string
	secret        string
	tolerance     time.Duration
	submitTimeout time.Duration
	now           func() time.Time
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) HandlerOption { return func(h *Handler) { h.tolerance = d } }

// WithSubmitTimeout bounds a single Submit call.
func WithSubmitTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.submitTimeout = d }
}

// WithClock is used by tests.
func WithClock(now func() time.Time) HandlerOption { return func(h *Handler) { h.now = now } }

func NewHandler(queue Submitter, queueName, secret string, opts ...HandlerOption) *Handler {
	h := &Handler{
		queue:         queue,
		queueName:     queueName,
		secret:        secret,
		tolerance:     DefaultTolerance,
		submitTimeout: 5 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleWebhook accepts a signed delivery. A verified payload is submitted exactly
// once; if the submit fails for any reason the provider gets a 503 and retries.
func (h *Handler) HandleWebhook(c *fiber.Ctx) error {
	if h.secret == "" {
		log.Error("[Ingress] WEBHOOK_SECRET is not configured, rejecting delivery")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "webhook_not_configured"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	if len(rawBody) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty_body"})
	}

	if err := VerifySignature(rawBody, c.Get(SignatureHeaderName), h.secret, h.now(), h.tolerance); err != nil {
		log.Warnf("[Ingress] Rejected delivery from %s: %v", c.IP(), err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.submitTimeout)
	defer cancel()

	taskID, err := h.queue.Submit(ctx, h.queueName, rawBody)
	if err != nil {
		class := ClassifySubmitError(err)
		log.Errorf("[Ingress] Submit failed (%s): %v", class, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "queue_unavailable",
			"class": string(class),
		})
	}

	log.Infof("[Ingress] Enqueued task %s (%d bytes)", taskID, len(rawBody))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "task_id": taskID})
}
