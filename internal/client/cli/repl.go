package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// shell is the command surface the REPL drives. *App satisfies it.
type shell interface {
	List(ctx context.Context, o ListOptions) error
	Add(ctx context.Context, o AddOptions) error
	SetFixed(ctx context.Context, id string, fixed bool) error
	Delete(ctx context.Context, id string, yes bool) error
	Show(ctx context.Context, id string, o ShowOptions) error
	Stats(ctx context.Context) error
	Status(ctx context.Context) error
	Refresh(ctx context.Context) error
	SetOnline(online bool)
}

const shellHelp = `Commands:
  list [category]      list bugs, optionally for one category
  open | fixed         list open or fixed bugs
  add [title]          report a bug
  fix <id>             mark a bug fixed
  unfix <id>           reopen a bug
  delete | rm <id>     delete a bug
  show <id>            show one bug
  stats                counts per category
  status               connection and sync state
  refresh | sync       reconcile with the remote store now
  online | offline     tell the engine about connectivity
  exit | quit          leave the shell`

// runREPL reads commands line by line and dispatches them to a until EOF or
// exit. Command errors are printed and the loop continues.
func runREPL(ctx context.Context, a shell, promptFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("bugs %s> ", promptFn()))
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
		case "help", "?":
			printlnFn(shellHelp)

		case "l", "list":
			o := ListOptions{}
			if len(args) > 0 {
				o.Category = args[0]
			}
			err = a.List(ctx, o)

		case "open", "fixed":
			err = a.List(ctx, ListOptions{State: cmd})

		case "add":
			err = a.Add(ctx, AddOptions{Title: strings.Join(args, " ")})

		case "fix", "unfix":
			if len(args) != 1 {
				printlnFn("usage:", cmd, "<id>")
				continue
			}
			err = a.SetFixed(ctx, args[0], cmd == "fix")

		case "delete", "rm":
			if len(args) != 1 {
				printlnFn("usage:", cmd, "<id>")
				continue
			}
			err = a.Delete(ctx, args[0], false)

		case "show":
			if len(args) != 1 {
				printlnFn("usage: show <id>")
				continue
			}
			err = a.Show(ctx, args[0], ShowOptions{})

		case "stats":
			err = a.Stats(ctx)

		case "status":
			err = a.Status(ctx)

		case "refresh", "sync":
			err = a.Refresh(ctx)

		case "online", "offline":
			a.SetOnline(cmd == "online")

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil && !errors.Is(err, errAborted) {
			printlnFn("error:", err)
		}
	}
}

// Shell runs the interactive shell on stdin until EOF, exit or ctx is done.
func (a *App) Shell(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	prompt := func() string {
		st := a.engine.Status()
		who := a.identity.Current(ctx)
		conn := "online"
		if !st.Online {
			conn = "offline"
		}
		return fmt.Sprintf("[%s %s %d]", who.DisplayName, conn, len(a.engine.Records("")))
	}

	sc := bufio.NewScanner(a.in)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runREPL(ctx, a, prompt, sc)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}
