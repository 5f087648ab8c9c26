package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// runREPL reads prompts in a loop with line editing and history, dispatching
// each one as a request against the current session.
func (c *cli) runREPL(ctx context.Context) error {
	fmt.Println("foreman - agent orchestration engine")
	fmt.Println("Type a task and press Enter. 'exit' or Ctrl+D to quit.")
	fmt.Printf("Session: %s\n\n", c.session.ID)

	home, _ := os.UserHomeDir()
	historyFile := filepath.Join(home, ".foreman", "history")
	_ = os.MkdirAll(filepath.Dir(historyFile), 0o755)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			// Ctrl+C on an empty line quits; otherwise discard the line.
			if len(input) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		}

		if _, _, err := c.dispatch(ctx, input); err != nil {
			fmt.Printf("Error: %v\n\n", err)
		}
		fmt.Println()
	}
}
