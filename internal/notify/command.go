package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs a local program for every notification, e.g.
// `notify-send {title} {body}`. Placeholders {id}, {task}, {title} and {body}
// in Args are substituted per notification.
type Command struct {
	Command string
	Args    []string
}

// ParseCommand splits a whitespace separated command line.
func ParseCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Command: fields[0], Args: fields[1:]}
}

func (c Command) Permitted(context.Context, string) bool { return c.Command != "" }

func (c Command) Deliver(ctx context.Context, n Notification) error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	r := strings.NewReplacer("{id}", n.ID, "{task}", n.TaskID, "{title}", n.Title, "{body}", n.Body)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	cmd := exec.CommandContext(ctx, c.Command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("notify command: %v; out=%s", err, string(out))
	}
	return nil
}

// Retract is a no-op; a spawned desktop notification cannot be recalled.
func (c Command) Retract(context.Context, string) error { return nil }
