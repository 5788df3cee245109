package mqtt

import (
	"fmt"
	"slices"
	"strings"
)

// Subscribe registers handler for filter. Single-level (+) and trailing
// multi-level (#) wildcards are accepted. The subscription is remembered
// and re-established by the client after every reconnect.
//
//	err := client.Subscribe(mqtt.Topics{}.AllDeviceCommands(site), 1,
//	    func(topic string, payload []byte) error {
//	        identity, _ := mqtt.Topics{}.ParseDeviceCommand(site, topic)
//	        return telemetry.SendText(identity, string(payload))
//	    })
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{filter: filter, qos: qos, handler: handler}
	if err := c.subscribe(sub); err != nil {
		return err
	}

	c.subMu.Lock()
	c.subscriptions[filter] = sub
	c.subMu.Unlock()
	return nil
}

// Unsubscribe forgets filter. The local record is dropped even when the
// broker cannot be reached, so the filter is not restored on reconnect.
func (c *Client) Unsubscribe(filter string) error {
	if err := validFilter(filter); err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: unsubscribe %s: timeout after %v", ErrSubscribeFailed, filter, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// Subscriptions lists the remembered filters in sorted order.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	filters := make([]string, 0, len(c.subscriptions))
	for f := range c.subscriptions {
		filters = append(filters, f)
	}
	c.subMu.RUnlock()
	slices.Sort(filters)
	return filters
}

func (c *Client) subscribe(sub subscription) error {
	token := c.client.Subscribe(sub.filter, sub.qos, c.wrapHandler(sub.handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, sub.filter, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, sub.filter, err)
	}
	return nil
}

// restoreSubscriptions re-subscribes every remembered filter. It runs on
// paho's connect callback, so failures are logged rather than returned.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		if err := c.subscribe(s); err != nil {
			c.logWarn("restoring MQTT subscription failed", "filter", s.filter, "error", err)
		}
	}
}

// validFilter checks a subscription filter: '+' must fill a whole level
// and '#' must be the whole last level.
func validFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
		case level != "#" && level != "+" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard inside level %q of %q", ErrInvalidTopic, level, filter)
		}
	}
	return nil
}
