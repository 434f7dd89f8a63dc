package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
)

// DefaultTemplate renders notifications whose template has no configured text
const DefaultTemplate = `[{{.workflow}}] {{.template}}: request #{{.instance_id}} by {{.requester}} is {{.state}}`

// MessageSender sends one IM message
type MessageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content, dedupKey string) (string, error)
}

// Notifier delivers workflow notifications as Lark text messages, one per
// recipient
type Notifier struct {
	sender        MessageSender
	receiveIDType string
	templates     map[string]*template.Template
	fallback      *template.Template
	logger        *zap.Logger
}

var _ port.Notifier = (*Notifier)(nil)

// NewNotifier parses templates, keyed by notification template name, and
// returns a notifier sending through sender
func NewNotifier(sender MessageSender, receiveIDType string, templates map[string]string, logger *zap.Logger) (*Notifier, error) {
	if receiveIDType == "" {
		receiveIDType = "user_id"
	}

	parsed := make(map[string]*template.Template, len(templates))
	for name, text := range templates {
		t, err := template.New(name).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse notification template %s: %w", name, err)
		}
		parsed[name] = t
	}

	return &Notifier{
		sender:        sender,
		receiveIDType: receiveIDType,
		templates:     parsed,
		fallback:      template.Must(template.New("default").Option("missingkey=zero").Parse(DefaultTemplate)),
		logger:        logger,
	}, nil
}

// Send renders the notification and messages every recipient. Each message
// carries a key derived from the delivery ID and recipient, so a retried
// notification is not shown twice.
func (n *Notifier) Send(ctx context.Context, msg port.Notification) (string, error) {
	text, err := n.render(msg)
	if err != nil {
		return "", err
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}

	var errs []error
	for _, recipient := range msg.Recipients {
		key := DedupKey(msg.DeliveryID, recipient)
		if _, err := n.sender.SendMessage(ctx, n.receiveIDType, recipient, "text", string(content), key); err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", recipient, err))
		}
	}
	if len(errs) > 0 {
		n.logger.Warn("Notification partially delivered",
			zap.String("delivery_id", msg.DeliveryID),
			zap.Int("failed", len(errs)),
			zap.Int("recipients", len(msg.Recipients)))
		return "", errors.Join(errs...)
	}

	n.logger.Info("Notification delivered",
		zap.String("delivery_id", msg.DeliveryID),
		zap.Int64("instance_id", msg.InstanceID),
		zap.String("template", msg.Template),
		zap.Int("recipients", len(msg.Recipients)))
	return msg.DeliveryID, nil
}

func (n *Notifier) render(msg port.Notification) (string, error) {
	t, ok := n.templates[msg.Template]
	if !ok {
		t = n.fallback
	}

	data := make(map[string]interface{}, len(msg.Payload)+2)
	for k, v := range msg.Payload {
		data[k] = v
	}
	data["template"] = msg.Template
	if _, ok := data["instance_id"]; !ok {
		data["instance_id"] = msg.InstanceID
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render notification %s: %w", msg.Template, err)
	}
	return buf.String(), nil
}

// DedupKey derives the per-recipient message key for a delivery
func DedupKey(deliveryID, recipient string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(deliveryID+"/"+recipient)).String()
}
