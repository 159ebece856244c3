// Package prompt implements the bounded confirmation used before
// configuration changes: a single blocking read raced against a
// deadline, never a polling loop.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout is how long Confirm waits before falling back to the
// default answer.
const DefaultTimeout = 30 * time.Second

// One reader owns stdin for the life of the process. A per-prompt
// goroutine would strand the line typed after a timeout: the dead
// goroutine consumes it and the next prompt never sees input.
var (
	readerOnce sync.Once
	lines      chan string
)

func startReader(r io.Reader) {
	readerOnce.Do(func() {
		ch := make(chan string, 1)
		lines = ch
		go func() {
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				ch <- scanner.Text()
			}
			close(ch)
		}()
	})
}

// Confirm asks a yes/no question and returns the answer. On timeout,
// on a non-interactive stdin, or on empty input it returns def.
func Confirm(question string, def bool, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !isInteractive() {
		return def
	}
	startReader(os.Stdin)
	drainStale()

	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Printf("%s [%s] (auto-answer in %s): ", question, hint, timeout)

	return awaitAnswer(def, timeout)
}

// drainStale drops a line typed after an earlier prompt had already
// timed out, so it cannot answer a question it was not typed for.
func drainStale() {
	select {
	case <-lines:
	default:
	}
}

func awaitAnswer(def bool, timeout time.Duration) bool {
	select {
	case response, ok := <-lines:
		if !ok {
			// stdin closed
			return def
		}
		return parseAnswer(response, def)
	case <-time.After(timeout):
		fmt.Println()
		return def
	}
}

func parseAnswer(response string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

// isInteractive reports whether stdin is a terminal
func isInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
