package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/mqtt"
)

// commandMessage is the JSON form of a bus command. Exactly one of the
// fields is expected.
type commandMessage struct {
	Activate *bool  `json:"activate"`
	Text     string `json:"text"`
}

// SubscribeCommands forwards messages on every device's command topic to
// cmd. A JSON object {"activate": bool} switches the output; {"text": s}
// or a non-JSON payload is sent to the device verbatim.
func (r *Relay) SubscribeCommands(cmd Commander) error {
	if r.sinks.Bus == nil {
		return ErrNoBus
	}
	topic := r.topics.AllDeviceCommands(r.cfg.SiteID)
	if err := r.sinks.Bus.Subscribe(topic, r.cfg.QoS, r.commandHandler(cmd)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	r.logger.Info("relaying device commands", "topic", topic)
	return nil
}

// UnsubscribeCommands stops forwarding bus commands.
func (r *Relay) UnsubscribeCommands() error {
	if r.sinks.Bus == nil {
		return nil
	}
	return r.sinks.Bus.Unsubscribe(r.topics.AllDeviceCommands(r.cfg.SiteID))
}

func (r *Relay) commandHandler(cmd Commander) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		identity, ok := r.topics.ParseDeviceCommand(r.cfg.SiteID, topic)
		if !ok {
			return fmt.Errorf("%w: %s", ErrBadTopic, topic)
		}

		msg, err := parseCommand(payload)
		if err != nil {
			return err
		}

		if msg.Activate != nil {
			err = cmd.SendCommand(identity, *msg.Activate)
		} else {
			err = cmd.SendText(identity, msg.Text)
		}
		if err != nil {
			return fmt.Errorf("relaying command to %s: %w", identity, err)
		}
		r.logger.Debug("bus command relayed", "identity", identity)
		return nil
	}
}

func parseCommand(payload []byte) (commandMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return commandMessage{}, ErrEmptyCommand
	}

	if trimmed[0] == '{' {
		var msg commandMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return commandMessage{}, fmt.Errorf("decoding command: %w", err)
		}
		if msg.Activate == nil && msg.Text == "" {
			return commandMessage{}, ErrEmptyCommand
		}
		return msg, nil
	}

	return commandMessage{Text: string(trimmed)}, nil
}
