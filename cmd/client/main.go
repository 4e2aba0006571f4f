package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"chat-core/internal/adapters/exporter"
	"chat-core/internal/client"
	"chat-core/internal/domain"
	"chat-core/internal/pkg/term"
)

const usage = `Usage: client [flags] <command> [args]

Commands:
  dm <user_id>                  open private channel
  send <channel> <text>         send text message
  upload <channel> <file>       upload media file and wait for the message
  history <channel> [query]     print channel messages
  tail <channel> [query]        follow channel live
  pin|unpin|read <channel> <message_id>
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var serverAddr, token, kind string
	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "Server address")
	flag.StringVar(&token, "token", os.Getenv("CHAT_TOKEN"), "Access token (defaults to $CHAT_TOKEN)")
	flag.StringVar(&kind, "kind", "", "Media kind for upload (IMAGE, VIDEO, AUDIO, FILE)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		return errors.New("command and channel are required")
	}

	tm := term.NewTerminal()
	if token == "" {
		t, err := tm.Token()
		if err != nil {
			return err
		}
		token = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(strings.TrimRight(serverAddr, "/"), token)
	out := exporter.NewConsoleExporter(os.Stdout, tm.Width())
	cmd, channelID, rest := args[0], args[1], args[2:]

	switch cmd {
	case "dm":
		info, err := c.PrivateChannel(ctx, channelID)
		if err != nil {
			return err
		}
		fmt.Println(info.ChannelID)
	case "send":
		if len(rest) == 0 {
			return errors.New("text is required")
		}
		msg, err := c.SendText(ctx, channelID, strings.Join(rest, " "))
		if err != nil {
			return err
		}
		fmt.Println(out.Line(msg, 0))
	case "upload":
		if len(rest) != 1 {
			return errors.New("file path is required")
		}
		return upload(ctx, c, out, channelID, rest[0], domain.Kind(strings.ToUpper(kind)))
	case "history":
		h, err := c.History(ctx, channelID, strings.Join(rest, " "))
		if err != nil {
			return err
		}
		pinned, err := c.Pinned(ctx, channelID)
		if err != nil {
			return err
		}
		return out.Export(h.Messages, pinned)
	case "tail":
		return tail(ctx, c, out, channelID, strings.Join(rest, " "))
	case "pin", "unpin", "read":
		if len(rest) != 1 {
			return errors.New("message id is required")
		}
		switch cmd {
		case "pin":
			return c.Pin(ctx, channelID, rest[0])
		case "unpin":
			return c.Unpin(ctx, channelID, rest[0])
		default:
			return c.MarkRead(ctx, channelID, rest[0])
		}
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func upload(ctx context.Context, c *client.Client, out *exporter.ConsoleExporter, channelID, path string, kind domain.Kind) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("не удалось открыть файл %s: %w", path, err)
	}
	defer f.Close()

	taskID, err := c.StartUpload(ctx, channelID, filepath.Base(path), f, kind)
	if err != nil {
		return err
	}
	fmt.Printf("Задача создана с идентификатором: %s\n", taskID)

	msg, err := c.WaitUpload(ctx, taskID)
	if err != nil {
		return err
	}
	fmt.Println(out.Line(msg, 0))
	return nil
}

// tail печатает сообщения по мере появления в потоке.
func tail(ctx context.Context, c *client.Client, out *exporter.ConsoleExporter, channelID, query string) error {
	s, err := c.OpenStream(ctx, channelID, query)
	if err != nil {
		return err
	}
	defer s.Close()

	seen := make(map[string]bool)
	for {
		v, err := s.Next(ctx)
		if err != nil {
			if client.IsClosed(err) {
				return nil
			}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				fmt.Fprintf(os.Stderr, "Ошибка сервера: %v\n", apiErr)
				continue
			}
			return err
		}
		for _, m := range v.Messages {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			fmt.Println(out.Line(m, 12))
		}
	}
}
