// README: Push notifier that turns request events into FCM messages for the passenger's device.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"

	"sharetaxi/internal/events"
	"sharetaxi/internal/types"
)

const sendTimeout = 5 * time.Second

var ErrNoDeviceToken = errors.New("no device token registered")

// TokenResolver maps a user to the FCM registration token of their device.
type TokenResolver interface {
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

// Sender delivers one message. *messaging.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// RTDBTokens reads tokens the mobile apps write to /device_tokens/{uid}.
type RTDBTokens struct {
	client *db.Client
}

func NewRTDBTokens(client *db.Client) *RTDBTokens {
	return &RTDBTokens{client: client}
}

func (r *RTDBTokens) DeviceToken(ctx context.Context, userID types.ID) (string, error) {
	var token string
	if err := r.client.NewRef("device_tokens/"+string(userID)).Get(ctx, &token); err != nil {
		return "", fmt.Errorf("read device token: %w", err)
	}
	if token == "" {
		return "", ErrNoDeviceToken
	}
	return token, nil
}

// Notifier is an events.Handler. Delivery failures are logged and dropped.
type Notifier struct {
	tokens TokenResolver
	sender Sender
	logger *slog.Logger
}

var _ events.Handler = (*Notifier)(nil)

func NewNotifier(tokens TokenResolver, sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{tokens: tokens, sender: sender, logger: logger.With("component", "notify")}
}

func (n *Notifier) HandleTaxiStateChanged(events.TaxiStateChanged) {}

func (n *Notifier) HandleRequestAccepted(ev events.RequestAccepted) {
	n.push(ev.PassengerID, map[string]string{
		"type":       string(events.TypeRequestAccepted),
		"request_id": string(ev.RequestID),
		"taxi_id":    string(ev.TaxiID),
	}, &messaging.Notification{
		Title: "Taxi on the way",
		Body:  fmt.Sprintf("Taxi %s accepted your request", ev.TaxiID),
	})
}

func (n *Notifier) HandleRequestClosed(ev events.RequestClosed) {
	// Passengers close their own requests by cancelling; only tell them about the rest.
	if ev.Status != "completed" {
		return
	}
	n.push(ev.PassengerID, map[string]string{
		"type":       string(events.TypeRequestClosed),
		"request_id": string(ev.RequestID),
		"status":     ev.Status,
	}, &messaging.Notification{
		Title: "Trip completed",
		Body:  "Thanks for riding with us",
	})
}

func (n *Notifier) push(userID types.ID, data map[string]string, note *messaging.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	token, err := n.tokens.DeviceToken(ctx, userID)
	if errors.Is(err, ErrNoDeviceToken) {
		n.logger.Debug("skip push, no device token", "user_id", userID)
		return
	}
	if err != nil {
		n.logger.Warn("resolve device token failed", "user_id", userID, "error", err)
		return
	}
	id, err := n.sender.Send(ctx, &messaging.Message{
		Token:        token,
		Data:         data,
		Notification: note,
		Android:      &messaging.AndroidConfig{Priority: "high"},
	})
	if err != nil {
		n.logger.Warn("fcm send failed", "user_id", userID, "type", data["type"], "error", err)
		return
	}
	n.logger.Debug("push sent", "user_id", userID, "type", data["type"], "message_id", id)
}

// Noop drops every event. Used when push is not configured.
type Noop struct{}

var _ events.Handler = Noop{}

func (Noop) HandleTaxiStateChanged(events.TaxiStateChanged) {}
func (Noop) HandleRequestAccepted(events.RequestAccepted)   {}
func (Noop) HandleRequestClosed(events.RequestClosed)       {}
