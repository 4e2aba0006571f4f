// Package term содержит ввод и вывод для интерактивного клиента.
package term

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Terminal читает секреты и узнает размер окна терминала.
type Terminal struct {
	in       *bufio.Reader
	out      io.Writer
	stdinfd  int
	stdoutfd int

	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
	getSize      func(fd int) (int, int, error)
}

// NewTerminal создает Terminal поверх stdin и stdout процесса.
func NewTerminal() *Terminal {
	return &Terminal{
		in:           bufio.NewReader(os.Stdin),
		out:          os.Stdout,
		stdinfd:      int(os.Stdin.Fd()),
		stdoutfd:     int(os.Stdout.Fd()),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
		getSize:      term.GetSize,
	}
}

// Token запрашивает токен доступа. В терминале ввод не отображается,
// из пайпа читается первая строка.
func (t *Terminal) Token() (string, error) {
	fmt.Fprint(t.out, "Enter access token: ")
	var raw string
	if t.isTerminal(t.stdinfd) {
		b, err := t.readPassword(t.stdinfd)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		fmt.Fprintln(t.out) // Новая строка после ввода
		raw = string(b)
	} else {
		line, err := t.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		raw = line
	}

	token := strings.TrimSpace(raw)
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// Width возвращает ширину терминала или 0, если вывод перенаправлен.
func (t *Terminal) Width() int {
	if !t.isTerminal(t.stdoutfd) {
		return 0
	}
	w, _, err := t.getSize(t.stdoutfd)
	if err != nil {
		return 0
	}
	return w
}
