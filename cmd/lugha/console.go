package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/lugha/internal/session"
	"github.com/MrWong99/lugha/internal/transcript"
)

const helpText = `commands:
  start   start a new conversation
  stop    end the current conversation
  status  show the session state
  turns   print the transcript so far
  help    show this help
  quit    exit`

// controller is the part of [session.Manager] the console drives.
type controller interface {
	Start(ctx context.Context) (string, error)
	Stop()
	Snapshot() session.Snapshot
}

// console prints session progress and executes typed commands.
type console struct {
	mu sync.Mutex
	w  io.Writer

	sessionID string
	state     session.State
	printed   int
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

// onSnapshot prints state transitions and every newly finalized turn. It is
// called from the session dispatcher.
func (c *console) onSnapshot(s session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.ID != c.sessionID {
		c.sessionID = s.ID
		c.printed = 0
	}
	if s.State != c.state {
		c.state = s.State
		if s.Err != nil {
			fmt.Fprintf(c.w, "[%s] %v\n", s.State, s.Err)
		} else {
			fmt.Fprintf(c.w, "[%s]\n", s.State)
		}
	}
	for c.printed < len(s.Turns) && s.Turns[c.printed].Final {
		printTurn(c.w, s.Turns[c.printed])
		c.printed++
	}
}

func (c *console) prompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, `type "help" for commands`)
}

// handle executes one command line. It returns false when the user asked to
// quit.
func (c *console) handle(ctx context.Context, ctl controller, line string) bool {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
	case "start":
		id, err := ctl.Start(ctx)
		if err != nil {
			c.printf("start failed: %v\n", err)
		} else {
			c.printf("session %s connecting…\n", id)
		}
	case "stop":
		ctl.Stop()
	case "status":
		s := ctl.Snapshot()
		c.printf("state=%s session=%s turns=%d sent=%d dropped=%d pending_audio=%d\n",
			s.State, orNone(s.ID), len(s.Turns), s.FramesSent, s.FramesDropped, s.PendingAudio)
		if s.Err != nil {
			c.printf("error: %v\n", s.Err)
		}
	case "turns":
		s := ctl.Snapshot()
		c.mu.Lock()
		if len(s.Turns) == 0 {
			fmt.Fprintln(c.w, "(no turns yet)")
		}
		for _, t := range s.Turns {
			printTurn(c.w, t)
		}
		c.mu.Unlock()
	case "help", "?":
		c.printf("%s\n", helpText)
	case "quit", "exit", "q":
		return false
	default:
		c.printf("unknown command %q, type \"help\"\n", cmd)
	}
	return true
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func printTurn(w io.Writer, t transcript.Turn) {
	label := "you"
	if t.Role == transcript.RoleModel {
		label = "tutor"
	}
	suffix := ""
	if !t.Final {
		suffix = " …"
	}
	fmt.Fprintf(w, "%5s: %s%s\n", label, t.Text, suffix)
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// readCommands sends each line of r to out and closes out at EOF.
func readCommands(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}
