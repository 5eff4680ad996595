package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// DefaultADBPath is the adb binary looked up on PATH.
const DefaultADBPath = "adb"

// shellMSService is the Android service that sends an SMS from the attached phone.
const shellMSService = "com.android.shellms/.sendSMS"

// commandRunner runs an external command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ADBOpts configures the ADB SMS dispatcher.
type ADBOpts struct {
	Path   string
	Serial string
}

// ADBOption mutates ADBOpts.
type ADBOption func(*ADBOpts)

// WithADBPath sets the adb binary.
func WithADBPath(p string) ADBOption {
	return func(o *ADBOpts) { o.Path = p }
}

// WithADBSerial targets a specific device when several are attached.
func WithADBSerial(s string) ADBOption {
	return func(o *ADBOpts) { o.Serial = s }
}

// ADBDispatcher sends SMS through an Android phone attached over adb.
type ADBDispatcher struct {
	path   string
	serial string
	run    commandRunner
}

// NewADBDispatcher builds the dispatcher.
func NewADBDispatcher(opts ...ADBOption) *ADBDispatcher {
	cfg := ADBOpts{Path: DefaultADBPath}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Path == "" {
		cfg.Path = DefaultADBPath
	}
	return &ADBDispatcher{path: cfg.Path, serial: cfg.Serial, run: execRunner}
}

// Channel implements Dispatcher.
func (a *ADBDispatcher) Channel() models.Channel { return models.ChannelSMS }

// Send implements Dispatcher.
func (a *ADBDispatcher) Send(ctx context.Context, address, text string) error {
	args := a.args(address, text)
	out, err := a.run(ctx, a.path, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: adb exited with %d: %s", ErrDeliveryFailed, exitErr.ExitCode(), strings.TrimSpace(string(out)))
		}
		return fmt.Errorf("run adb: %w", err)
	}
	slog.Debug("ADBDispatcher.Send: delivered", "to", address, "output", strings.TrimSpace(string(out)))
	return nil
}

func (a *ADBDispatcher) args(address, text string) []string {
	var args []string
	if a.serial != "" {
		args = append(args, "-s", a.serial)
	}
	return append(args,
		"shell", "am", "startservice",
		"--user", "0",
		"-n", shellMSService,
		"-e", "contact", "+"+strings.TrimPrefix(address, "+"),
		"-e", "msg", shellQuote(text),
	)
}

// shellQuote wraps s in single quotes for the device shell that adb hands the
// arguments to.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
