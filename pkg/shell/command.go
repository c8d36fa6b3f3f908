package shell

import (
	"fmt"
	"strings"
)

// Command is one line of shell text. Privileged commands force the whole
// batch they belong to onto the elevated interpreter.
type Command struct {
	Text       string
	Privileged bool
}

// NewCommand formats a command line. Arguments are inserted verbatim; quote
// paths with Quote.
func NewCommand(format string, args ...any) Command {
	if len(args) == 0 {
		return Command{Text: format}
	}
	return Command{Text: fmt.Sprintf(format, args...)}
}

// Elevated returns a copy of c that requires privilege.
func (c Command) Elevated() Command {
	c.Privileged = true
	return c
}

func (c Command) String() string { return c.Text }

// Quote returns s as a single-quoted shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

func batchPrivileged(cmds []Command) bool {
	for _, c := range cmds {
		if c.Privileged {
			return true
		}
	}
	return false
}
