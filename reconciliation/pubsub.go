package reconciliation

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/middlewares"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

const pushHandlerName = "payment-sync-push"

// PaymentSyncMessage is the body published to request an asynchronous poll.
type PaymentSyncMessage struct {
	TriggeredBy string    `json:"triggered_by"`
	ActorId     string    `json:"actor_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

type Publisher interface {
	PublishPaymentSync(ctx context.Context, msg PaymentSyncMessage) (string, error)
}

// PubSubPublisher publishes to a Pub/Sub topic. A nil Client uses the
// process-wide one.
type PubSubPublisher struct {
	Topic  string
	Client *pubsub.Client
}

func (p *PubSubPublisher) client(ctx context.Context) (*pubsub.Client, error) {
	if p.Client != nil {
		return p.Client, nil
	}
	return config.GetPubSubClient(ctx)
}

// EnsureTopic creates the topic when it does not exist yet.
func (p *PubSubPublisher) EnsureTopic(ctx context.Context) error {
	client, err := p.client(ctx)
	if err != nil {
		return err
	}
	_, err = config.CreateTopicIfNotExists(ctx, client, p.Topic)
	return err
}

func (p *PubSubPublisher) PublishPaymentSync(ctx context.Context, msg PaymentSyncMessage) (string, error) {
	client, err := p.client(ctx)
	if err != nil {
		return "", err
	}
	return config.PublishJSON(ctx, client, p.Topic, msg)
}

type pushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PubSubPushHandler runs a poll per delivered message. Redeliveries of a message
// that already succeeded are acknowledged without running again.
func PubSubPushHandler(syncer *PaymentSyncer, idem models.IdempotencyStore, pushToken string, logger *logrus.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = config.GetLogger()
	}
	return func(c *gin.Context) {
		if pushToken != "" && !validPushToken(c, pushToken) {
			middlewares.RespondError(c, logger, moduleName, "PubSubPushHandler", utils.Unauthenticated("invalid push token"))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope pushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message.ID == "" {
			logger.WithFields(logrus.Fields{"module": moduleName}).Warn("dropping malformed push message")
			c.Status(http.StatusNoContent)
			return
		}
		var msg PaymentSyncMessage
		if len(envelope.Message.Data) > 0 {
			if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
				logger.WithFields(logrus.Fields{"module": moduleName, "message_id": envelope.Message.ID}).
					WithError(err).Warn("dropping push message with undecodable payload")
				c.Status(http.StatusNoContent)
				return
			}
		}

		ctx := c.Request.Context()
		messageId := envelope.Message.ID
		skip, err := idem.BeginIdempotency(ctx, pushHandlerName, messageId)
		if errors.Is(err, models.ErrIdempotencyInProgress) {
			c.Status(http.StatusConflict)
			return
		}
		if err != nil {
			config.LogError(logger, moduleName, "PubSubPushHandler", "begin idempotency", messageId, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if skip {
			c.Status(http.StatusNoContent)
			return
		}

		var actor *auth.Identity
		if msg.ActorId != "" {
			actor = &auth.Identity{UserId: msg.ActorId}
		}
		_, err = syncer.Run(ctx, models.BatchTriggeredPubSub, actor)
		switch {
		case err == nil, errors.Is(err, utils.ErrLockHeld):
			// a poll already running satisfies the request
			if mErr := idem.MarkIdempotencySucceeded(ctx, pushHandlerName, messageId); mErr != nil {
				config.LogError(logger, moduleName, "PubSubPushHandler", "mark succeeded", messageId, mErr)
			}
			c.Status(http.StatusNoContent)
		default:
			if mErr := idem.MarkIdempotencyFailed(ctx, pushHandlerName, messageId, err); mErr != nil {
				config.LogError(logger, moduleName, "PubSubPushHandler", "mark failed", messageId, mErr)
			}
			config.LogError(logger, moduleName, "PubSubPushHandler", "payment sync", messageId, err)
			c.Status(http.StatusInternalServerError)
		}
	}
}

func validPushToken(c *gin.Context, want string) bool {
	got := strings.TrimSpace(c.Query("token"))
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
