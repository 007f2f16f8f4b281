package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nlanhduy/online-auction-chat/internal/config"
	"github.com/nlanhduy/online-auction-chat/internal/logging"
	"github.com/nlanhduy/online-auction-chat/internal/session"
	"github.com/nlanhduy/online-auction-chat/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err == flag.ErrHelp {
		printUsage()
		return nil
	}
	if err != nil {
		return err
	}

	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Printf("orderchat %s\n", version.RichVersion())
			return nil
		}
	}

	if len(args) != 1 {
		printUsage()
		return fmt.Errorf("expected exactly one order id")
	}
	orderID := args[0]

	token := os.Getenv("ORDERCHAT_TOKEN")
	if token == "" {
		return fmt.Errorf("ORDERCHAT_TOKEN is not set")
	}

	logger, err := logging.New(logging.Config{Development: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Debug {
		logger.Debugw("config loaded", "server", cfg.ServerURL, "api", cfg.APIBaseURL, "pageSize", cfg.PageSize)
	}

	coord := session.New(session.Config{
		ServerURL:  cfg.ServerURL,
		APIBaseURL: cfg.APIBaseURL,
		PageSize:   cfg.PageSize,
		Logger:     logger,
		OnUpdate:   printUpdate(),
	})
	defer coord.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = coord.Open(ctx, orderID, token)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open order chat: %w", err)
	}

	fmt.Printf("Joined chat for order %s. Type a message, /more, /read, /reconnect or /quit.\n", orderID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-sigCh:
			fmt.Println("\nClosing chat...")
			return coord.Close()

		case line, ok := <-lines:
			if !ok {
				return coord.Close()
			}
			if err := handleLine(coord, line); err != nil {
				if err == errQuit {
					return coord.Close()
				}
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func handleLine(coord *session.Coordinator, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	switch line {
	case "/quit":
		return errQuit
	case "/more":
		return coord.LoadMore()
	case "/read":
		return coord.MarkAsRead()
	case "/reconnect":
		return coord.Reconnect()
	}

	// A keystroke burst followed by a send, like a typing user.
	coord.HandleTyping()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	msg, err := coord.SendMessage(ctx, line)
	if err != nil {
		return fmt.Errorf("send failed: %w (draft kept: %q)", err, line)
	}
	fmt.Printf("sent %s at %s\n", msg.ID, msg.CreatedAt.Local().Format(time.Kitchen))
	return nil
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// printUpdate renders snapshots pushed by the coordinator. It only prints
// when something the user can see changed.
func printUpdate() func(session.Snapshot) {
	var lastState session.ConnState
	var lastCount int
	var lastTyping string

	return func(snap session.Snapshot) {
		if snap.State != lastState {
			lastState = snap.State
			fmt.Printf("[%s]\n", snap.State)
			if snap.Err != "" {
				fmt.Printf("[error: %s]\n", snap.Err)
			}
		}

		if n := len(snap.Messages); n != lastCount {
			for _, m := range snap.Messages[lastCount:] {
				name := m.Sender.FullName
				if name == "" {
					name = m.SenderID
				}
				fmt.Printf("%s %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), name, m.Content)
			}
			lastCount = n
		}

		typing := typingLine(snap)
		if typing != lastTyping {
			lastTyping = typing
			if typing != "" {
				fmt.Println(typing)
			}
		}
	}
}

func typingLine(snap session.Snapshot) string {
	if len(snap.TypingUsers) == 0 {
		return ""
	}
	names := make([]string, 0, len(snap.TypingUsers))
	for _, u := range snap.TypingUsers {
		if u.FullName != "" {
			names = append(names, u.FullName)
		} else {
			names = append(names, u.UserID)
		}
	}
	return fmt.Sprintf("[%s typing...]", strings.Join(names, ", "))
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("orderchat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	serverURL := fs.String("server", "", "Realtime channel server URL")
	apiURL := fs.String("api-url", "", "REST history API URL")
	pageSize := fs.Int("page-size", 0, "History page size")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *serverURL != "" {
		cfg.ServerURL = *serverURL
		if *apiURL == "" && os.Getenv("ORDERCHAT_API_URL") == "" {
			cfg.APIBaseURL = *serverURL
		}
	}
	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}
	if *pageSize > 0 {
		cfg.PageSize = *pageSize
	}
	if *debug {
		cfg.Debug = true
	}

	return fs.Args(), nil
}

func printUsage() {
	fmt.Println(`orderchat - realtime order conversation client

Usage:
  orderchat <order-id>   Open the chat for an order
  orderchat help         Show this help message
  orderchat version      Show version information

Environment Variables:
  ORDERCHAT_TOKEN       Bearer token (JWT) for the session (required)
  ORDERCHAT_SERVER_URL  Realtime channel server URL
  ORDERCHAT_API_URL     REST history API URL (default: server URL)
  ORDERCHAT_PAGE_SIZE   History page size (default: 20)
  ORDERCHAT_DEBUG       Enable debug logging (true/1)

Flags:
  --server              Realtime channel server URL
  --api-url             REST history API URL
  --page-size           History page size
  --debug               Enable debug logging

Commands inside the chat:
  /more                 Load an older history page
  /read                 Mark the conversation as read
  /reconnect            Re-dial after a failed connection
  /quit                 Leave the chat`)
}
