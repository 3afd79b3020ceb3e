package dispatch

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// OutboundMessage is everything the provider needs to send one message.
type OutboundMessage struct {
	MessageID  string
	CampaignID string
	TenantID   string
	Recipient  string
	Body       string
}

// Sender pushes a single message to the upstream messaging provider and
// returns the provider's dispatch id. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, m OutboundMessage) (string, error)
}

// LogSender stands in for the real provider in local and test setups: it
// fabricates a dispatch id and logs the send.
type LogSender struct {
	node *snowflake.Node
}

func NewLogSender(node *snowflake.Node) Sender {
	return &LogSender{node: node}
}

func (s *LogSender) Send(ctx context.Context, m OutboundMessage) (string, error) {
	id := "wamid." + s.node.Generate().String()
	zap.L().Debug("simulated provider send",
		zap.String("campaign_id", m.CampaignID),
		zap.String("recipient", m.Recipient),
		zap.String("dispatch_id", id),
	)
	return id, nil
}
