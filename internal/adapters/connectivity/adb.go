// Package connectivity toggles a device's network so that it reconnects with a
// new carrier-assigned address.
package connectivity

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// ADB flips airplane mode through adb. Serial selects a device when several
// are attached.
type ADB struct {
	Path   string
	Serial string
	run    Runner
	logger *zerolog.Logger
}

func NewADB(path, serial string, logger *zerolog.Logger) *ADB {
	if path == "" {
		path = "adb"
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &ADB{Path: path, Serial: serial, run: execRunner, logger: logger}
}

// WithRunner replaces the command runner, mainly for tests.
func (a *ADB) WithRunner(r Runner) *ADB {
	a.run = r
	return a
}

// SetConnectivity enabled=false turns airplane mode on.
func (a *ADB) SetConnectivity(ctx context.Context, enabled bool) error {
	mode := "enable"
	if enabled {
		mode = "disable"
	}
	args := a.args("shell", "cmd", "connectivity", "airplane-mode", mode)
	out, err := a.run(ctx, a.Path, args...)
	if err != nil {
		return fmt.Errorf("adb airplane-mode %s: %w: %s", mode, err, strings.TrimSpace(string(out)))
	}
	a.logger.Debug().Str("serial", a.Serial).Str("airplane_mode", mode).Msg("connectivity toggled")
	return nil
}

func (a *ADB) args(rest ...string) []string {
	if a.Serial == "" {
		return rest
	}
	return append([]string{"-s", a.Serial}, rest...)
}

// Noop records toggles without touching any device.
type Noop struct {
	mu      sync.Mutex
	toggles []bool
}

func (n *Noop) SetConnectivity(ctx context.Context, enabled bool) error {
	n.mu.Lock()
	n.toggles = append(n.toggles, enabled)
	n.mu.Unlock()
	return nil
}

// Toggles returns the recorded calls in order.
func (n *Noop) Toggles() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.toggles...)
}
