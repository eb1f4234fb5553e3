// Package cli provides the interactive command-line front end for bitkv.
package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/epokhe/bitkv"
)

// Handler runs an interactive read-eval-print loop against a *bitkv.Store.
type Handler struct {
	store   *bitkv.Store
	scanner *bufio.Scanner
}

// NewHandler wraps store in an interactive command loop reading from stdin.
func NewHandler(store *bitkv.Store) *Handler {
	return &Handler{store: store, scanner: bufio.NewScanner(os.Stdin)}
}

// Run starts the command loop. It returns when EXIT/QUIT is entered or
// stdin is exhausted.
func (h *Handler) Run() error {
	fmt.Println("bitkv - log-structured key-value store")
	fmt.Println("Commands: PUT <key> <value>, GET <key>, DELETE <key>, LIST, MERGE, SYNC, STATS, EXIT")
	fmt.Print("> ")

	for h.scanner.Scan() {
		line := strings.TrimSpace(h.scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToUpper(parts[0])

		switch command {
		case "PUT":
			h.handlePut(parts)
		case "GET":
			h.handleGet(parts)
		case "DELETE":
			h.handleDelete(parts)
		case "LIST":
			h.handleList()
		case "MERGE":
			h.handleMerge()
		case "SYNC":
			h.handleSync()
		case "STATS":
			h.handleStats()
		case "EXIT", "QUIT":
			slog.Info("cli: shutdown requested by user")
			fmt.Println("bye")
			return nil
		default:
			slog.Warn("cli: unknown command", "command", command)
			fmt.Printf("unknown command: %s\n", command)
		}

		fmt.Print("> ")
	}

	if err := h.scanner.Err(); err != nil {
		return fmt.Errorf("cli: read input: %w", err)
	}
	return nil
}

func (h *Handler) handlePut(parts []string) {
	if len(parts) < 3 {
		fmt.Println("usage: PUT <key> <value>")
		return
	}
	key, value := parts[1], strings.Join(parts[2:], " ")
	if err := h.store.Put([]byte(key), []byte(value)); err != nil {
		slog.Error("cli: put failed", "key", key, "error", err)
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (h *Handler) handleGet(parts []string) {
	if len(parts) < 2 {
		fmt.Println("usage: GET <key>")
		return
	}
	val, err := h.store.Get([]byte(parts[1]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(string(val))
}

func (h *Handler) handleDelete(parts []string) {
	if len(parts) < 2 {
		fmt.Println("usage: DELETE <key>")
		return
	}
	if err := h.store.Delete([]byte(parts[1])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (h *Handler) handleList() {
	for _, key := range h.store.ListKeys() {
		fmt.Println(string(key))
	}
}

func (h *Handler) handleMerge() {
	n, err := h.store.Merge()
	if err != nil {
		slog.Error("cli: merge failed", "error", err)
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("merged %d records\n", n)
}

func (h *Handler) handleSync() {
	if err := h.store.Sync(); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (h *Handler) handleStats() {
	s := h.store.Stats()
	fmt.Printf("keys=%d segments=%d bytes=%d\n", s.Keys, s.Segments, s.Bytes)
}
