package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers a handler for topic (wildcards allowed). The
// subscription is restored after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if err := waitToken(context.Background(), token, defaultPublishTimeout); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if err := waitToken(context.Background(), c.client.Unsubscribe(topic), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// ReadRetained returns the retained message on topic. The broker delivers a
// retained message immediately on subscribe, so if nothing arrives within
// wait the topic has no retained value and found is false.
//
// The subscription is temporary and not restored on reconnect.
func (c *Client) ReadRetained(ctx context.Context, topic string, wait time.Duration) (payload []byte, found bool, err error) {
	if topic == "" {
		return nil, false, ErrInvalidTopic
	}
	if !c.IsConnected() {
		return nil, false, ErrNotConnected
	}

	msgs := make(chan []byte, 1)
	token := c.client.Subscribe(topic, c.qos(), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if !msg.Retained() {
			return
		}
		select {
		case msgs <- msg.Payload():
		default:
		}
	})
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	defer c.client.Unsubscribe(topic)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case p := <-msgs:
		return p, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
