package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Get(ctx context.Context, path string) error
	Send(ctx context.Context, path string) error
	ShowQueue(ctx context.Context) error
	Drain(ctx context.Context) error
	ClearQueue(ctx context.Context) error
}

// runREPL starts a simple read–eval–print loop for the SquadUp client CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not logged in:
//	  - help           — show available commands
//	  - login          — authenticate
//	  - exit | quit    — leave the program
//
//	Logged in:
//	  - help           — show available commands
//	  - get <path>     — perform a GET request
//	  - send <path>    — post a message (interactive body prompt)
//	  - queue          — show pending and parked mutations
//	  - drain          — flush the pending queue now
//	  - clear          — discard all pending mutations
//	  - logout         — log out
//	  - exit | quit    — leave the program
//
// Any errors returned by command handlers are ignored here; handlers should
// log their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("squadup %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: get <path>, send <path>, queue, drain, clear, logout, exit")
			} else {
				printlnFn("Available commands: login, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "get":
			if len(args) == 0 {
				printlnFn("Usage: get <path>")
				continue
			}
			_ = a.Get(ctx, args[0])

		case "send":
			if len(args) == 0 {
				printlnFn("Usage: send <path>")
				continue
			}
			_ = a.Send(ctx, args[0])

		case "queue":
			_ = a.ShowQueue(ctx)

		case "drain":
			_ = a.Drain(ctx)

		case "clear":
			_ = a.ClearQueue(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
