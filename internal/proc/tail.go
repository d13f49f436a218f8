package proc

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Tail retains the last N lines written to it. The capture supervisor
// attaches one to each child's stderr so the final diagnostic survives
// the process.
type Tail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewTail returns a Tail keeping at most max lines.
func NewTail(max int) *Tail {
	if max <= 0 {
		max = 1
	}
	return &Tail{max: max}
}

// Consume reads r line by line until EOF. It is meant to run in its own
// goroutine for the lifetime of the subprocess.
func (t *Tail) Consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		t.append(sc.Text())
	}
}

func (t *Tail) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

// String joins the retained lines.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
