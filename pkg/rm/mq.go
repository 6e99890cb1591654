package rm

import (
	"context"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iklop007/galaxytx/pkg/store"
)

// MQPublisher is the narrow slice of an amqp091-go channel the MQ handler
// needs to republish the message a branch parked while awaiting the
// coordinator's verdict.
type MQPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// MQHandler implements rm.Handler for message-broker branches: commit
// publishes the parked message onward (confirming delivery), rollback
// publishes it to the resource's configured dead-letter/retry exchange.
// The branch's LockKey carries "exchange/routingKey" for the original
// destination; ApplicationData carries the original message body.
type MQHandler struct {
	ch               MQPublisher
	deadLetterSuffix string
}

// NewMQHandler builds the MQ rm.Handler over an amqp091-go channel.
// deadLetterSuffix names the exchange rollback republishes to, appended to
// the branch's original exchange (e.g. "orders" -> "orders.dlx").
func NewMQHandler(ch MQPublisher, deadLetterSuffix string) *MQHandler {
	if deadLetterSuffix == "" {
		deadLetterSuffix = ".dlx"
	}
	return &MQHandler{ch: ch, deadLetterSuffix: deadLetterSuffix}
}

func (h *MQHandler) Commit(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	exchange, key, err := splitDestination(b.LockKey)
	if err != nil {
		return CommunicationResult{Status: NonRetryableError, Err: err}
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		Body:         b.ApplicationData,
		Headers: amqp.Table{
			"x-xid":       b.XID,
			"x-branch-id": strconv.FormatInt(b.BranchID, 10),
		},
	}
	if err := h.ch.PublishWithContext(ctx, exchange, key, false, false, pub); err != nil {
		return CommunicationResult{Status: NetworkError, Err: err}
	}
	return CommunicationResult{Status: Success}
}

func (h *MQHandler) Rollback(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	exchange, key, err := splitDestination(b.LockKey)
	if err != nil {
		return CommunicationResult{Status: NonRetryableError, Err: err}
	}
	pub := amqp.Publishing{
		ContentType: "application/json",
		Body:        b.ApplicationData,
		Headers: amqp.Table{
			"x-xid":       b.XID,
			"x-branch-id": strconv.FormatInt(b.BranchID, 10),
			"x-cancelled": true,
		},
	}
	if err := h.ch.PublishWithContext(ctx, exchange+h.deadLetterSuffix, key, false, false, pub); err != nil {
		return CommunicationResult{Status: NetworkError, Err: err}
	}
	return CommunicationResult{Status: Success}
}

func splitDestination(lockKey string) (exchange, routingKey string, err error) {
	for i := 0; i < len(lockKey); i++ {
		if lockKey[i] == '/' {
			return lockKey[:i], lockKey[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("rm/mq: lockKey %q is not \"exchange/routingKey\"", lockKey)
}
