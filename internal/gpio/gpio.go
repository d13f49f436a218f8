// Package gpio provides minimal sysfs GPIO line access. The motion
// engine (PIR sensor) and the day/night controller (IR-cut) each own a
// distinct line; nothing here is shared between them.
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Input is a readable GPIO line.
type Input interface {
	Read() (bool, error)
	// WaitEdge blocks until the line changes state or the timeout
	// elapses; it returns false on timeout.
	WaitEdge(timeout time.Duration) (bool, error)
	Close() error
}

// Output is a writable GPIO line.
type Output interface {
	Write(high bool) error
	Close() error
}

const sysfsRoot = "/sys/class/gpio"

type line struct {
	pin  int
	root string
}

// export makes the pin visible under /sys/class/gpio and sets direction.
func export(root string, pin int, direction string) (*line, error) {
	l := &line{pin: pin, root: root}
	dir := l.path("")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", pin, err)
		}
	}
	if err := os.WriteFile(l.path("direction"), []byte(direction), 0o644); err != nil {
		return nil, fmt.Errorf("set gpio %d direction: %w", pin, err)
	}
	return l, nil
}

func (l *line) path(name string) string {
	base := filepath.Join(l.root, fmt.Sprintf("gpio%d", l.pin))
	if name == "" {
		return base
	}
	return filepath.Join(base, name)
}

func (l *line) Close() error {
	return os.WriteFile(filepath.Join(l.root, "unexport"), []byte(fmt.Sprintf("%d", l.pin)), 0o644)
}

type input struct {
	*line
}

// NewInput exports pin as an input with both-edge interrupts.
func NewInput(pin int) (Input, error) {
	return newInput(sysfsRoot, pin)
}

func newInput(root string, pin int) (Input, error) {
	l, err := export(root, pin, "in")
	if err != nil {
		return nil, err
	}
	// Best effort: not every pin supports edge interrupts, Read still works.
	_ = os.WriteFile(l.path("edge"), []byte("both"), 0o644)
	return &input{line: l}, nil
}

func (i *input) Read() (bool, error) {
	b, err := os.ReadFile(i.path("value"))
	if err != nil {
		return false, fmt.Errorf("read gpio %d: %w", i.pin, err)
	}
	return strings.TrimSpace(string(b)) == "1", nil
}

// WaitEdge polls the value file with POLLPRI, the sysfs way of waiting
// for an interrupt on an exported line.
func (i *input) WaitEdge(timeout time.Duration) (bool, error) {
	f, err := os.Open(i.path("value"))
	if err != nil {
		return false, err
	}
	defer f.Close()

	// A dummy read resets the pending interrupt.
	buf := make([]byte, 8)
	_, _ = f.Read(buf)

	fds := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("poll gpio %d: %w", i.pin, err)
	}
	return n > 0, nil
}

type output struct {
	*line
}

// NewOutput exports pin as an output.
func NewOutput(pin int) (Output, error) {
	return newOutput(sysfsRoot, pin)
}

func newOutput(root string, pin int) (Output, error) {
	l, err := export(root, pin, "out")
	if err != nil {
		return nil, err
	}
	return &output{line: l}, nil
}

func (o *output) Write(high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	if err := os.WriteFile(o.path("value"), []byte(v), 0o644); err != nil {
		return fmt.Errorf("write gpio %d: %w", o.pin, err)
	}
	return nil
}
