package relay

import (
	"context"
	"errors"
	"time"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/api"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/device"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/mqtt"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/provisioning"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/telemetry"
)

// storeTimeout bounds a single SQLite write made on behalf of an event.
const storeTimeout = 5 * time.Second

// Bus is the MQTT client surface the relay uses.
type Bus interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// PointWriter records time-series points.
type PointWriter interface {
	WriteReading(identity string, volts float64, at time.Time)
	WriteOutputState(identity, state string, at time.Time)
	WriteProvisioningOutcome(runID, identity string, success bool, at time.Time)
}

// Broadcaster pushes events to WebSocket subscribers. identity is empty
// for events that are not about a single device.
type Broadcaster interface {
	Broadcast(channel, identity string, payload any)
}

// DeviceStore persists what the telemetry server has seen.
type DeviceStore interface {
	RecordSeen(ctx context.Context, identity, address string, at time.Time) error
	RecordReading(ctx context.Context, identity, address string, volts float64, at time.Time) error
	RecordOutput(ctx context.Context, identity string, state device.OutputState, at time.Time) error
}

// RunRecorder persists finished provisioning runs.
type RunRecorder interface {
	Record(ctx context.Context, rep provisioning.Report) error
}

// Commander sends commands to devices.
type Commander interface {
	SendCommand(identity string, activate bool) error
	SendText(identity, text string) error
}

// Logger defines the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config identifies the site on the bus. QoS applies to the command
// subscription; published events use the bus client's own QoS.
type Config struct {
	SiteID string
	QoS    byte
}

// Sinks are the consumers events are relayed to. Any of them may be nil.
type Sinks struct {
	Bus     Bus
	Points  PointWriter
	Hub     Broadcaster
	Devices DeviceStore
	Runs    RunRecorder
}

// Relay distributes events to every configured sink.
type Relay struct {
	cfg    Config
	sinks  Sinks
	topics mqtt.Topics
	logger Logger
	now    func() time.Time
}

// New creates a relay.
func New(cfg Config, sinks Sinks) *Relay {
	return &Relay{
		cfg:    cfg,
		sinks:  sinks,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger. Call before events start flowing.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// readingMessage is the bus and WebSocket form of a reading.
type readingMessage struct {
	Identity   string    `json:"identity"`
	Volts      float64   `json:"volts"`
	Address    string    `json:"address,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// stateMessage is the bus and WebSocket form of an output state change.
type stateMessage struct {
	Identity string             `json:"identity"`
	Output   device.OutputState `json:"output_state"`
	Address  string             `json:"address,omitempty"`
	At       time.Time          `json:"at"`
}

// HandleReadings relays readings from the telemetry server. It matches
// telemetry.ReadingsHandler.
func (r *Relay) HandleReadings(readings []telemetry.Reading) {
	for _, rd := range readings {
		msg := readingMessage{
			Identity:   rd.Identity,
			Volts:      rd.Volts,
			Address:    rd.Address,
			ReceivedAt: rd.ReceivedAt,
		}

		// Topics and series are keyed like the registry; the payload keeps
		// the identity as the node sent it.
		key := device.CanonicalIdentity(rd.Identity)
		r.publish(r.topics.Reading(r.cfg.SiteID, key), msg, false)
		if r.sinks.Points != nil {
			r.sinks.Points.WriteReading(key, rd.Volts, rd.ReceivedAt)
		}
		if r.sinks.Hub != nil {
			r.sinks.Hub.Broadcast(api.ChannelReading, rd.Identity, msg)
		}
		if r.sinks.Devices != nil {
			r.store("reading", func(ctx context.Context) error {
				return r.sinks.Devices.RecordReading(ctx, rd.Identity, rd.Address, rd.Volts, rd.ReceivedAt)
			})
		}
	}
}

// HandleAttribution relays datagrams attributed to a device. Every
// attribution refreshes the device's last-seen row; output state changes
// are also published.
func (r *Relay) HandleAttribution(att device.Attribution) {
	if !att.Attributed() {
		return
	}
	at := r.now()

	if r.sinks.Devices != nil {
		r.store("seen", func(ctx context.Context) error {
			return r.sinks.Devices.RecordSeen(ctx, att.Identity, att.Address, at)
		})
	}
	if !att.OutputChanged {
		return
	}

	msg := stateMessage{
		Identity: att.Identity,
		Output:   att.Output,
		Address:  att.Address,
		At:       at,
	}
	r.publish(r.topics.DeviceState(r.cfg.SiteID, att.Identity), msg, true)
	if r.sinks.Points != nil {
		r.sinks.Points.WriteOutputState(att.Identity, string(att.Output), at)
	}
	if r.sinks.Hub != nil {
		r.sinks.Hub.Broadcast(api.ChannelDeviceState, att.Identity, msg)
	}
	if r.sinks.Devices != nil {
		r.store("output", func(ctx context.Context) error {
			return r.sinks.Devices.RecordOutput(ctx, att.Identity, att.Output, at)
		})
	}
}

// HandleStatus relays one provisioning status line.
func (r *Relay) HandleStatus(st provisioning.Status) {
	if st.Text != "" {
		r.logger.Info("provisioning", "run_id", st.RunID, "status", st.Text)
	}
	r.publish(r.topics.ProvisioningStatus(r.cfg.SiteID), st, false)
	if r.sinks.Hub != nil {
		r.sinks.Hub.Broadcast(api.ChannelProvisioningStatus, "", st)
	}
}

// HandleOutcome relays the outcome of a provisioning run.
func (r *Relay) HandleOutcome(o provisioning.Outcome) {
	if o.Success {
		r.logger.Info("device provisioned", "run_id", o.RunID, "identity", o.Identity)
	} else {
		r.logger.Warn("provisioning failed, device unassigned", "run_id", o.RunID)
	}

	r.publish(r.topics.ProvisioningOutcome(r.cfg.SiteID), o, false)
	if r.sinks.Points != nil {
		r.sinks.Points.WriteProvisioningOutcome(o.RunID, o.Identity, o.Success, r.now())
	}
	if r.sinks.Hub != nil {
		r.sinks.Hub.Broadcast(api.ChannelProvisioningOutcome, "", o)
	}
}

// HandleReport stores the full record of a finished run.
func (r *Relay) HandleReport(rep provisioning.Report) {
	if r.sinks.Runs == nil {
		return
	}
	r.store("provisioning run", func(ctx context.Context) error {
		return r.sinks.Runs.Record(ctx, rep)
	})
}

func (r *Relay) publish(topic string, v any, retained bool) {
	if r.sinks.Bus == nil {
		return
	}
	if err := r.sinks.Bus.PublishJSON(topic, v, retained); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			r.logger.Debug("mqtt offline, event not published", "topic", topic)
			return
		}
		r.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (r *Relay) store(what string, write func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		r.logger.Warn("persisting "+what+" failed", "error", err)
	}
}
