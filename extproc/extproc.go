/*Package extproc runs the external programs the pipeline depends on.

The downloader script and the source extractor are both plain executables
that report success through their exit code.  A Runner starts them with a
context (so a timeout or a cancelled request kills the child), keeps the
tail of their stderr for diagnostics, and optionally drives an Indicator
such as a terminal spinner while the child is alive.

	r := extproc.Runner{Log: logrus.New()}
	err := r.Run(ctx, extproc.Command{Name: "sex", Args: []string{"g.fits"}})
*/
package extproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// stderrTail is how many bytes of a child's stderr are kept
const stderrTail = 2048

// ErrExitStatus is generated when a child exits with a nonzero status
var ErrExitStatus = errors.New("nonzero exit status")

// Indicator shows that a child process is running
type Indicator interface {
	Start() error
	Stop() error
	StopFail() error
}

// Command is one invocation of an external program
type Command struct {
	// Name is the executable, resolved through PATH if it has no separator
	Name string

	// Args are passed verbatim
	Args []string

	// Dir is the working directory, the current one if empty
	Dir string

	// Timeout bounds the run, zero for none
	Timeout time.Duration

	// Stdout receives the child's stdout, discarded if nil
	Stdout io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs Commands
type Runner struct {
	// Log receives debug output about each run, may be nil
	Log logrus.FieldLogger

	// Indicate, if not nil, is called with a label for each run and the
	// returned Indicator is started and stopped around it
	Indicate func(label string) Indicator
}

// Run starts the command and waits for it to exit.  A nonzero exit is
// reported as ErrExitStatus, wrapped together with the tail of stderr.
func (r Runner) Run(ctx context.Context, cmd Command) error {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	tail := &tailBuffer{max: stderrTail}
	c.Stderr = tail

	var ind Indicator
	if r.Indicate != nil {
		ind = r.Indicate(cmd.Name)
	}
	if ind != nil {
		ind.Start()
	}
	start := time.Now()
	err := c.Run()
	log := r.logger().WithFields(logrus.Fields{
		"cmd":     cmd.String(),
		"elapsed": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		if ind != nil {
			ind.StopFail()
		}
		msg := strings.TrimSpace(tail.String())
		log.WithError(err).WithField("stderr", msg).Debug("external process failed")
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
			}
			return fmt.Errorf("%s: %w (%d): %s", cmd.Name, ErrExitStatus, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}
	if ind != nil {
		ind.Stop()
	}
	log.Debug("external process finished")
	return nil
}

func (r Runner) logger() logrus.FieldLogger {
	if r.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return r.Log
}

// Retry calls op until it succeeds, retries is exhausted, or ctx is done,
// waiting an exponentially growing interval between attempts.  notify, if not
// nil, is called after each failed attempt that will be retried.
func Retry(ctx context.Context, retries int, initial time.Duration, op func() error, notify func(error, time.Duration)) error {
	if retries < 0 {
		retries = 0
	}
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0.1,
		Multiplier:          2.,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock}
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
	return backoff.RetryNotify(op, bo, notify)
}

// tailBuffer is an io.Writer which keeps only the last max bytes written
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
