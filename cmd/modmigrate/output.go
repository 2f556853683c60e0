package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// printList prints a header followed by one indented line per item.
func printList(header string, items []string) {
	printf("%s\n", headerStyle.Render(header))
	for _, item := range items {
		printf("\t%s\n", item)
	}
	printf("\n")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func success(format string, args ...any) {
	printf("%s\n", successStyle.Render(fmt.Sprintf(format, args...)))
}

func warn(format string, args ...any) {
	printf("%s\n", warnStyle.Render(fmt.Sprintf(format, args...)))
}

// confirm asks a yes/no question unless --yes was passed or interactive mode
// is disabled in configuration. Without a terminal on stdin the prompt falls
// back to plain line input.
func confirm(question string) (bool, error) {
	if assumeYes || !cfg.Interactive {
		return true, nil
	}

	var ok bool
	field := huh.NewConfirm().
		Title(question).
		Affirmative("yes").
		Negative("no").
		Value(&ok)
	err := huh.NewForm(huh.NewGroup(field)).
		WithAccessible(!isTerminal(os.Stdin)).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
