package agent

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface of the REPL. App satisfies it; tests use
// a stub.
type execIface interface {
	Enqueue(ctx context.Context, args []string) error
	Pending(ctx context.Context, args []string) error
	Count(ctx context.Context) error
	StartUploads(ctx context.Context) error
	StopUploads(ctx context.Context) error
	Status(ctx context.Context) error
	Drain(ctx context.Context) error
	DeleteSchedule(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  enqueue <path> <scheduleId> <photoType> <technicianId> [signer]
  pending [n]          list queued attachments
  count                number of queued attachments
  start | stop         control background uploads
  status               upload session and change log state
  drain                replay the change log now
  delete-schedule <id> drop a schedule with its photos
  exit | quit`

// runREPL reads commands line by line and dispatches them to a. The loop
// ends on EOF, "exit" or "quit". Command errors are printed and the loop
// goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("fieldsync %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "enqueue":
			err = a.Enqueue(ctx, args)
		case "pending":
			err = a.Pending(ctx, args)
		case "count":
			err = a.Count(ctx)
		case "start":
			err = a.StartUploads(ctx)
		case "stop":
			err = a.StopUploads(ctx)
		case "status":
			err = a.Status(ctx)
		case "drain":
			err = a.Drain(ctx)
		case "delete-schedule":
			err = a.DeleteSchedule(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
