package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gh "github.com/google/go-github/v74/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// deliveryCacheSize bounds the number of remembered delivery ids.
const deliveryCacheSize = 10000

// WebhookConfig configures a WebhookReceiver.
type WebhookConfig struct {
	Secret string
	// DeliveryTTL is how long a delivery id is remembered for deduplication.
	DeliveryTTL time.Duration
	// MaxConcurrent bounds the deliveries processed at the same time.
	MaxConcurrent int
	// RatePerMinute limits accepted deliveries. Zero disables limiting.
	RatePerMinute int
}

// WebhookReceiver validates GitHub webhook deliveries and hands them to an
// EventHandler in the background.
type WebhookReceiver struct {
	secret  []byte
	events  EventHandler
	metrics *Metrics
	logger  *slog.Logger

	limiter *rate.Limiter

	seenMu sync.Mutex
	seen   *expirable.LRU[string, struct{}]

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWebhookReceiver creates a WebhookReceiver.
func NewWebhookReceiver(cfg WebhookConfig, events EventHandler, metrics *Metrics, logger *slog.Logger) *WebhookReceiver {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.DeliveryTTL <= 0 {
		cfg.DeliveryTTL = time.Hour
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), max(cfg.RatePerMinute/10, 1))
	}

	return &WebhookReceiver{
		secret:  []byte(cfg.Secret),
		events:  events,
		metrics: metrics,
		logger:  logger.With("component", "webhook"),
		limiter: limiter,
		seen:    expirable.NewLRU[string, struct{}](deliveryCacheSize, nil, cfg.DeliveryTTL),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// ServeHTTP handles POST /webhooks/github.
func (wr *WebhookReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := gh.WebHookType(r)
	deliveryID := gh.DeliveryID(r)

	if wr.limiter != nil && !wr.limiter.Allow() {
		wr.metrics.delivery(eventType, outcomeRateLimited)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	payload, err := gh.ValidatePayload(r, wr.secret)
	if err != nil {
		wr.logger.Warn("webhook signature validation failed", "event", eventType, "delivery", deliveryID, "error", err)
		wr.metrics.delivery(eventType, outcomeInvalidSignature)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if eventType == "ping" || !isSupportedEvent(eventType) {
		wr.metrics.delivery(eventType, outcomeIgnored)
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		return
	}

	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		wr.logger.Warn("malformed webhook payload", "event", eventType, "delivery", deliveryID, "error", err)
		wr.metrics.delivery(eventType, outcomeMalformed)
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	task := route(event)
	if task == nil {
		wr.metrics.delivery(eventType, outcomeIgnored)
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		return
	}

	if !wr.markDelivered(deliveryID) {
		wr.logger.Info("duplicate webhook delivery", "event", eventType, "delivery", deliveryID)
		wr.metrics.delivery(eventType, outcomeDuplicate)
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "duplicate"})
		return
	}

	select {
	case wr.sem <- struct{}{}:
	case <-r.Context().Done():
		wr.forget(deliveryID)
		writeError(w, http.StatusServiceUnavailable, "server busy")
		return
	}

	wr.metrics.delivery(eventType, outcomeAccepted)
	wr.metrics.processingStarted()
	wr.wg.Add(1)

	// Processing outlives the request; keep its values but not its deadline.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer wr.wg.Done()
		defer func() { <-wr.sem }()

		start := time.Now()
		defer func() { wr.metrics.processingFinished(eventType, time.Since(start)) }()

		defer func() {
			if v := recover(); v != nil {
				wr.logger.Error("panic processing webhook", "event", eventType, "delivery", deliveryID, "panic", v)
				wr.metrics.delivery(eventType, outcomeFailed)
				wr.forget(deliveryID)
			}
		}()

		if err := task(ctx, wr.events); err != nil {
			wr.logger.Error("webhook processing failed", "event", eventType, "delivery", deliveryID, "error", err)
			wr.metrics.delivery(eventType, outcomeFailed)
			// A redelivery of a failed event must be processed again.
			wr.forget(deliveryID)
			return
		}
		wr.metrics.delivery(eventType, outcomeProcessed)
	}()

	writeJSON(w, http.StatusAccepted, WebhookResponse{Status: "accepted", DeliveryID: deliveryID})
}

// markDelivered records deliveryID and reports whether it was new. Deliveries
// without an id are never treated as duplicates.
func (wr *WebhookReceiver) markDelivered(deliveryID string) bool {
	if deliveryID == "" {
		return true
	}
	wr.seenMu.Lock()
	defer wr.seenMu.Unlock()

	if wr.seen.Contains(deliveryID) {
		return false
	}
	wr.seen.Add(deliveryID, struct{}{})
	return true
}

func (wr *WebhookReceiver) forget(deliveryID string) {
	if deliveryID == "" {
		return
	}
	wr.seenMu.Lock()
	defer wr.seenMu.Unlock()
	wr.seen.Remove(deliveryID)
}

// Wait blocks until every accepted delivery has been processed or ctx is
// done.
func (wr *WebhookReceiver) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		wr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("webhook deliveries still in flight"), ctx.Err())
	}
}
