package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

// maxWebhookBody caps unauthenticated webhook reads.
const maxWebhookBody = 1 << 20

// webhookHandler ingests tracker deliveries. The contract with the tracker
// is deliberately generous: anything that reached the store answers 200,
// duplicates and payloads the normalizer cannot place included, because the
// tracker retries non-2xx responses indefinitely. Only a failure to record
// the delivery answers 503 so it comes back.
func (s *Server) webhookHandler(c *echo.Context) error {
	if s.normalizer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webhook ingress is not configured")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty webhook payload")
	}

	ctx := c.Request().Context()
	key := webhookIdempotencyKey(c.Request().Header.Get("X-Idempotency-Key"), body)

	first, err := s.store.MarkWebhookProcessed(ctx, key, store.WebhookRetention)
	if err != nil {
		s.logger.Error("Failed to record webhook delivery", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "delivery could not be recorded")
	}
	if !first {
		telemetry.WebhooksReceived.WithLabelValues("duplicate").Inc()
		return c.JSON(http.StatusOK, WebhookResponse{Status: "duplicate"})
	}

	events, err := s.normalizer.NormalizeWebhookEvent(body)
	if err != nil {
		telemetry.WebhooksReceived.WithLabelValues("unrecognized").Inc()
		s.logger.Warn("Ignoring unparseable webhook payload", "error", err)
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored"})
	}

	for i := range events {
		if _, err := s.eventBus.Publish(events[i]); err != nil {
			s.logger.Error("Failed to publish webhook event",
				"issue_id", events[i].IssueID, "type", events[i].Type, "error", err)
		}
	}

	telemetry.WebhooksReceived.WithLabelValues("accepted").Inc()
	return c.JSON(http.StatusOK, WebhookResponse{Status: "accepted", Events: len(events)})
}

// webhookIdempotencyKey derives the dedup key for one delivery. An explicit
// X-Idempotency-Key header wins; otherwise the key digests the fields that
// identify the change, so tracker redeliveries collapse while distinct
// changes to the same issue stay apart. Bodies that do not expose those
// fields hash whole.
func webhookIdempotencyKey(header string, body []byte) string {
	if header != "" {
		return header
	}

	var probe struct {
		Action string `json:"action"`
		Type   string `json:"type"`
		Data   struct {
			ID        string `json:"id"`
			UpdatedAt string `json:"updatedAt"`
		} `json:"data"`
		CreatedAt string `json:"createdAt"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Data.ID == "" {
		sum := sha256.Sum256(body)
		return hex.EncodeToString(sum[:])
	}

	material := probe.Action + ":" + probe.Type + ":" + probe.Data.ID +
		":" + probe.Data.UpdatedAt + ":" + probe.CreatedAt
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
