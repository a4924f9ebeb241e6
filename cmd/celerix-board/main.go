package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/celerix-dev/celerix-board/internal/auth"
	"github.com/celerix-dev/celerix-board/internal/config"
	"github.com/celerix-dev/celerix-board/internal/engine"
	"github.com/celerix-dev/celerix-board/internal/storage"
	"github.com/celerix-dev/celerix-board/internal/vault"
	"github.com/celerix-dev/celerix-board/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "TOKEN":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-board TOKEN <email>")
		}
		issueToken(ctx, args[0])
		return

	case "MIGRATE":
		if len(args) < 4 {
			log.Fatal("Usage: celerix-board MIGRATE <srcBackend> <srcLocation> <dstBackend> <dstLocation>")
		}
		migrate(ctx, args[0], args[1], args[2], args[3])
		return
	}

	client, err := sdk.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	switch command {
	case "LIST":
		list, err := client.List(ctx)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(list)

	case "CREATE":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-board CREATE <name>")
		}
		created, err := client.Create(ctx, strings.Join(args, " "))
		if err != nil {
			log.Fatal(err)
		}
		printJSON(created)

	case "GET":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-board GET <canvasID>")
		}
		c, err := client.Get(ctx, args[0])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(c)

	case "RENAME":
		if len(args) < 2 {
			log.Fatal("Usage: celerix-board RENAME <canvasID> <name>")
		}
		c, err := client.Rename(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			log.Fatal(err)
		}
		printJSON(c)

	case "SHARE":
		if len(args) < 2 {
			log.Fatal("Usage: celerix-board SHARE <canvasID> <email>")
		}
		if err := client.Share(ctx, args[0], args[1]); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "DELETE":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-board DELETE <canvasID>")
		}
		if err := client.Delete(ctx, args[0]); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "WATCH":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-board WATCH <canvasID>")
		}
		watch(ctx, client, args[0])

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

// issueToken signs a token for an existing principal using the daemon's
// configuration. Principals are created through CELERIX_BOARD_SEED_PRINCIPALS.
func issueToken(ctx context.Context, email string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	store, err := storage.Open(cfg.Store, cfg.StoreLocation(), cfg.Key())
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store, err)
	}
	defer store.Close()

	p, err := store.PrincipalByEmail(ctx, email)
	if err != nil {
		log.Fatalf("No principal for %s (add it to CELERIX_BOARD_SEED_PRINCIPALS): %v", email, err)
	}
	token, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL).Issue(p)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}

func migrate(ctx context.Context, srcBackend, srcLocation, dstBackend, dstLocation string) {
	key, err := vault.ParseKey(os.Getenv("CELERIX_BOARD_DATA_KEY"))
	if err != nil {
		log.Fatal(err)
	}
	src, err := storage.Open(srcBackend, srcLocation, key)
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()
	dst, err := storage.Open(dstBackend, dstLocation, key)
	if err != nil {
		log.Fatalf("Failed to open destination: %v", err)
	}

	if err := engine.Migrate(ctx, src, dst); err != nil {
		dst.Close()
		log.Fatal(err)
	}
	// Close flushes the file backend's background writes.
	if err := dst.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("OK")
}

func watch(ctx context.Context, client *sdk.Client, canvasID string) {
	session, err := client.Dial(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", client.BaseURL(), err)
	}
	defer session.Close()

	c, err := session.Join(ctx, canvasID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Watching %q (%d elements). Ctrl+C to stop.\n", c.Name, len(c.Elements))
	follow(ctx, session)
}

func follow(ctx context.Context, live sdk.Updates) {
	for {
		select {
		case elements := <-live.Updates():
			printJSON(elements)
		case <-live.Done():
			log.Fatal("Connection closed by server")
		case <-ctx.Done():
			return
		}
	}
}

func printUsage() {
	fmt.Println("Celerix Board CLI - Interface for celerix-boardd")
	fmt.Println("\nUsage:")
	fmt.Println("  celerix-board LIST")
	fmt.Println("  celerix-board CREATE <name>")
	fmt.Println("  celerix-board GET <canvasID>")
	fmt.Println("  celerix-board RENAME <canvasID> <name>")
	fmt.Println("  celerix-board SHARE <canvasID> <email>")
	fmt.Println("  celerix-board DELETE <canvasID>")
	fmt.Println("  celerix-board WATCH <canvasID>")
	fmt.Println("  celerix-board TOKEN <email>")
	fmt.Println("  celerix-board MIGRATE <srcBackend> <srcLocation> <dstBackend> <dstLocation>")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  CELERIX_BOARD_ADDR         Address of the daemon (default: localhost:7002)")
	fmt.Println("  CELERIX_BOARD_TOKEN        Bearer token for canvas commands")
	fmt.Println("  CELERIX_BOARD_DISABLE_TLS  Set to false to use HTTPS (default: plain HTTP)")
	fmt.Println("  CELERIX_BOARD_DATA_KEY     Hex key of sealed file stores (MIGRATE, TOKEN)")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
