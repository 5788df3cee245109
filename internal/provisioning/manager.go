package provisioning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/metrics"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/process"
)

// Logger defines the logging interface for the manager.
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

// Deps are the manager's collaborators. Zero fields use the host.
type Deps struct {
	Discoverer Discoverer
	Opener     SerialOpener

	// FindToolchain is called once per run.
	FindToolchain func() (Toolchain, error)

	// LookupEnv reads the FLASH_* overrides.
	LookupEnv func(string) (string, bool)

	Metrics *metrics.Metrics
}

// Manager runs provisioning workflows in the background. It never touches
// the device registry; results leave only through the handlers.
//
// Runs are not serialised against each other; callers that need one run
// at a time must wait for the Final status before calling Begin again.
type Manager struct {
	cfg           config.ProvisioningConfig
	discoverer    Discoverer
	opener        SerialOpener
	findToolchain func() (Toolchain, error)
	lookupEnv     func(string) (string, bool)
	metrics       *metrics.Metrics
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	logger    Logger
	onStatus  func(Status)
	onOutcome func(Outcome)
	onReport  func(Report)
}

// NewManager creates a manager.
func NewManager(cfg config.ProvisioningConfig, deps Deps) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:           cfg,
		discoverer:    deps.Discoverer,
		opener:        deps.Opener,
		findToolchain: deps.FindToolchain,
		lookupEnv:     deps.LookupEnv,
		metrics:       deps.Metrics,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		logger:        noopLogger{},
	}
	if m.discoverer == nil {
		m.discoverer = SystemSerial{}
	}
	if m.opener == nil {
		m.opener = SystemSerial{}
	}
	if m.findToolchain == nil {
		m.findToolchain = func() (Toolchain, error) {
			path, err := LocateToolchain(cfg.ToolchainCandidates)
			if err != nil {
				return nil, err
			}
			return NewArduinoCLI(path, nil), nil
		}
	}
	if m.lookupEnv == nil {
		m.lookupEnv = os.LookupEnv
	}
	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// SetStatusHandler sets the receiver of progress lines.
func (m *Manager) SetStatusHandler(h func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = h
}

// SetOutcomeHandler sets the receiver of each run's outcome.
func (m *Manager) SetOutcomeHandler(h func(Outcome)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOutcome = h
}

// SetReportHandler sets the receiver of each run's full report. It is
// called just before the outcome.
func (m *Manager) SetReportHandler(h func(Report)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReport = h
}

// Begin starts one provisioning run and returns its ID without waiting.
// It fails only after Close.
func (m *Manager) Begin() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.ctx, id)
	}()

	m.metrics.ProvisioningStarted()
	m.logger.Info("provisioning run started", "run_id", id)
	return id, nil
}

// Close stops new runs, cancels running toolchain invocations and
// registration waits, and waits for every run to report.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// handlers returns a consistent snapshot of the callbacks.
func (m *Manager) handlers() (Logger, func(Status), func(Outcome), func(Report)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger, m.onStatus, m.onOutcome, m.onReport
}

// run executes the workflow. Every path ends in finish, which reports the
// outcome and then the final status.
func (m *Manager) run(ctx context.Context, runID string) {
	logger, onStatus, _, _ := m.handlers()
	rep := Report{RunID: runID, StartedAt: m.now()}
	reported := false

	status := func(text string) {
		logger.Debug("provisioning status", "run_id", runID, "text", text)
		if onStatus != nil {
			onStatus(Status{RunID: runID, Text: text, At: m.now()})
		}
	}

	var staged *stagedSketch
	defer func() {
		if r := recover(); r != nil {
			logger.Error("provisioning run panicked", "run_id", runID, "panic", r)
			if !reported {
				rep.Success = false
				rep.Identity = ""
				rep.Failure = fmt.Sprint("internal error: ", r)
				m.cleanup(staged, logger)
				m.finish(rep)
			}
		}
	}()

	fail := func(err error) {
		rep.Failure = err.Error()
		m.cleanup(staged, logger)
		reported = true
		m.finish(rep)
	}

	// Discover.
	status("Searching for serial device...")
	port, err := m.discover()
	if err != nil {
		status("No serial device found")
		fail(err)
		return
	}
	rep.SerialPort = port

	// Stage.
	sketch := m.cfg.FirmwarePath
	if o := readOverrides(m.lookupEnv); o.wanted() {
		staged, err = stageFirmware(m.cfg.FirmwarePath, o)
		if err != nil {
			logger.Warn("firmware staging failed, using unmodified sketch", "run_id", runID, "error", err)
		} else {
			sketch = staged.sketch
			rep.Staged = true
		}
	}

	rep.FQBN = m.cfg.DefaultFQBN
	if v, ok := m.lookupEnv(EnvFQBN); ok && v != "" {
		rep.FQBN = v
	}

	// Build and upload.
	tc, err := m.findToolchain()
	if err != nil {
		logger.Warn("toolchain unavailable", "run_id", runID, "error", err)
		status("arduino-cli not found; skipping flash")
	} else {
		rep.BuildOK = m.build(ctx, tc, rep.FQBN, sketch, status)
		if rep.BuildOK {
			rep.UploadOK = m.upload(ctx, tc, port, rep.FQBN, sketch, status)
		} else {
			status("Skipping upload due to compile errors")
		}
	}

	// Re-discover.
	port, err = m.discover()
	if err != nil {
		status("No serial device found after upload")
		fail(err)
		return
	}
	rep.SerialPort = port
	status(fmt.Sprintf("Using serial device %s for registration", port))

	// Await registration.
	identity, err := m.awaitRegistration(ctx, port, status)
	if err != nil {
		status("No registration received; device left unassigned")
		fail(err)
		return
	}
	status("Registered " + identity)

	rep.Identity = identity
	rep.Success = true
	m.cleanup(staged, logger)
	reported = true
	m.finish(rep)
}

func (m *Manager) discover() (string, error) {
	ports, err := m.discoverer.Ports()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoSerialDevice, err)
	}
	matched := matchPorts(ports, m.cfg.SerialPrefixes)
	if len(matched) == 0 {
		return "", ErrNoSerialDevice
	}
	return matched[0], nil
}

func (m *Manager) build(ctx context.Context, tc Toolchain, fqbn, sketch string, status func(string)) bool {
	status("Compiling sketch...")
	rc, err := tc.Compile(ctx, fqbn, sketch, status)
	switch {
	case err == nil:
		return true
	case errors.Is(err, process.ErrLaunch):
		status("Failed to run arduino-cli compile")
	default:
		status(fmt.Sprintf("Compile failed (rc=%d)", rc))
	}
	return false
}

func (m *Manager) upload(ctx context.Context, tc Toolchain, port, fqbn, sketch string, status func(string)) bool {
	status("Flashing device...")
	_, err := tc.Upload(ctx, port, fqbn, sketch, status)
	if errors.Is(err, process.ErrLaunch) {
		status("Failed to run arduino-cli upload")
	}
	return err == nil
}

func (m *Manager) cleanup(staged *stagedSketch, logger Logger) {
	if err := staged.remove(); err != nil {
		logger.Warn("removing staged firmware", "path", staged.root, "error", err)
	}
}

// finish delivers the report, the outcome and the final status, in that
// order.
func (m *Manager) finish(rep Report) {
	logger, onStatus, onOutcome, onReport := m.handlers()
	rep.FinishedAt = m.now()

	m.metrics.ProvisioningFinished(rep.Success, rep.Duration())
	logger.Info("provisioning run finished",
		"run_id", rep.RunID,
		"success", rep.Success,
		"identity", rep.Identity,
		"failure", rep.Failure,
		"duration", rep.Duration(),
	)

	if onReport != nil {
		onReport(rep)
	}
	if onOutcome != nil {
		onOutcome(rep.Outcome())
	}
	if onStatus != nil {
		onStatus(Status{RunID: rep.RunID, Final: true, At: rep.FinishedAt})
	}
}
