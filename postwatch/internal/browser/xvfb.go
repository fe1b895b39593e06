package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// virtualDisplay is an Xvfb server hosting a headful Chrome.
type virtualDisplay struct {
	name   string
	cmd    *exec.Cmd
	logger *slog.Logger
}

// displaySocket returns the X socket Xvfb creates for a display name such
// as ":99".
func displaySocket(name string) (string, error) {
	num, ok := strings.CutPrefix(name, ":")
	if ok {
		num, _, _ = strings.Cut(num, ".")
	}
	if _, err := strconv.Atoi(num); !ok || err != nil {
		return "", fmt.Errorf("browser: bad display %q", name)
	}
	return "/tmp/.X11-unix/X" + num, nil
}

// startDisplay runs Xvfb on name and waits until its socket accepts
// clients. The screen is tall so that several posts fit the viewport.
func startDisplay(ctx context.Context, name string, logger *slog.Logger) (*virtualDisplay, error) {
	socket, err := displaySocket(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("Xvfb", name, "-screen", "0", "1280x2000x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browser: start xvfb: %w", err)
	}
	d := &virtualDisplay{name: name, cmd: cmd, logger: logger}

	wait, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		select {
		case <-wait.Done():
			d.stop()
			return nil, fmt.Errorf("browser: xvfb %s not ready: %w", name, wait.Err())
		case <-tick.C:
		}
	}
	logger.Info("browser: xvfb ready", "display", name, "pid", cmd.Process.Pid)
	return d, nil
}

// stop asks Xvfb to exit and kills it if it does not within a second.
func (d *virtualDisplay) stop() {
	if d == nil || d.cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		d.cmd.Wait()
		close(done)
	}()
	d.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(time.Second):
		d.cmd.Process.Kill()
		<-done
	}
	d.logger.Info("browser: xvfb stopped", "display", d.name)
}
