package term

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTerminal(input string, tty bool) (*Terminal, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Terminal{
		in:           bufio.NewReader(strings.NewReader(input)),
		out:          out,
		isTerminal:   func(int) bool { return tty },
		readPassword: func(int) ([]byte, error) { return []byte(" secret-from-tty "), nil },
		getSize:      func(int) (int, int, error) { return 120, 40, nil },
	}, out
}

func TestTerminal_Token(t *testing.T) {
	t.Run("из терминала без эха", func(t *testing.T) {
		tm, out := newTestTerminal("", true)
		tok, err := tm.Token()
		require.NoError(t, err)
		assert.Equal(t, "secret-from-tty", tok)
		assert.Equal(t, "Enter access token: \n", out.String())
	})

	t.Run("from pipe", func(t *testing.T) {
		tm, _ := newTestTerminal("eyJhbGciOi.x.y\nrest\n", false)
		tok, err := tm.Token()
		require.NoError(t, err)
		assert.Equal(t, "eyJhbGciOi.x.y", tok)
	})

	t.Run("pipe without newline", func(t *testing.T) {
		tm, _ := newTestTerminal("abc", false)
		tok, err := tm.Token()
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)
	})

	t.Run("пустой ввод", func(t *testing.T) {
		tm, _ := newTestTerminal("\n", false)
		_, err := tm.Token()
		assert.EqualError(t, err, "empty token")
	})

	t.Run("read error", func(t *testing.T) {
		tm, _ := newTestTerminal("", true)
		tm.readPassword = func(int) ([]byte, error) { return nil, errors.New("inappropriate ioctl") }
		_, err := tm.Token()
		assert.ErrorContains(t, err, "inappropriate ioctl")
	})
}

func TestTerminal_Width(t *testing.T) {
	tm, _ := newTestTerminal("", true)
	assert.Equal(t, 120, tm.Width())

	tm.getSize = func(int) (int, int, error) { return 0, 0, errors.New("not a tty") }
	assert.Equal(t, 0, tm.Width())

	tm, _ = newTestTerminal("", false)
	assert.Equal(t, 0, tm.Width())
}
