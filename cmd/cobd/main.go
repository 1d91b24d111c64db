// cobd is a thin example binary over package object: create, update,
// retrieve, and list collaborative objects against a local memstore
// substrate. It exists to give the rest of this module a runnable
// entry point, grounded on the teacher's cmd/memex-fs shape (flag
// parsing, log.Printf/Fatalf, signal-driven shutdown) rather than on
// any framework.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/crdt"
	"github.com/22388o/radicle-link/identity"
	"github.com/22388o/radicle-link/internal/config"
	"github.com/22388o/radicle-link/internal/logging"
	"github.com/22388o/radicle-link/object"
	"github.com/22388o/radicle-link/substrate/memstore"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to cobd.toml (defaults built in if omitted)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)
	subArgs := flag.Args()[1:]

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("cobd: load config: %v", err)
		}
		cfg = loaded
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := logging.New("cobd", level)

	signer, author, err := loadIdentity(cfg)
	if err != nil {
		log.Fatalf("cobd: load identity: %v", err)
	}

	store, err := memstore.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("cobd: open substrate at %s: %v", cfg.DataDir, err)
	}
	refs, err := memstore.OpenRefStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("cobd: open ref store at %s: %v", cfg.DataDir, err)
	}
	oracle := identity.NewStaticOracle()
	oracle.Authorize(author, signer.PublicKey())
	objects := object.NewStore(store, refs, oracle, crdt.Automerge{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		done := make(chan os.Signal, 1)
		signal.Notify(done, os.Interrupt, syscall.SIGTERM)
		<-done
		logging.Warn(ctx, logger, "cobd: received shutdown signal", nil)
		cancel()
	}()

	var runErr error
	switch cmd {
	case "create":
		runErr = runCreate(ctx, objects, author, signer, subArgs)
	case "update":
		runErr = runUpdate(ctx, objects, author, signer, subArgs)
	case "get":
		runErr = runGet(ctx, objects, subArgs)
	case "list":
		runErr = runList(ctx, objects, subArgs)
	default:
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		log.Fatalf("cobd %s: %v", cmd, runErr)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `cobd [-config path] <command> [args]

Commands:
  create -type T -schema schema.json -blob change.bin
  update -type T -id ID -blob change.bin
  get    -type T -id ID
  list   -type T [-prefix P]`)
}

func runCreate(ctx context.Context, objects *object.Store, author cid.Hash, signer *identity.KeySigner, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	typename := fs.String("type", "", "Object typename")
	schemaPath := fs.String("schema", "", "Path to the object's JSON Schema")
	blobPath := fs.String("blob", "", "Path to the initial CRDT change blob")
	fs.Parse(args)

	schemaRaw, err := os.ReadFile(*schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	blob, err := os.ReadFile(*blobPath)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}

	id, err := objects.Create(ctx, *typename, schemaRaw, 1, crdt.Blob(blob), author, author, signer)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runUpdate(ctx context.Context, objects *object.Store, author cid.Hash, signer *identity.KeySigner, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	typename := fs.String("type", "", "Object typename")
	id := fs.String("id", "", "Object id")
	blobPath := fs.String("blob", "", "Path to the CRDT change blob")
	fs.Parse(args)

	blob, err := os.ReadFile(*blobPath)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	return objects.Update(ctx, *typename, *id, crdt.Blob(blob), author, author, signer)
}

func runGet(ctx context.Context, objects *object.Store, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	typename := fs.String("type", "", "Object typename")
	id := fs.String("id", "", "Object id")
	fs.Parse(args)

	obj, err := objects.Retrieve(ctx, *typename, *id)
	if err != nil {
		return err
	}
	return printObject(obj)
}

func runList(ctx context.Context, objects *object.Store, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	typename := fs.String("type", "", "Object typename")
	prefix := fs.String("prefix", "", "Object id prefix filter")
	fs.Parse(args)

	entries, err := objects.Enumerate(ctx, *typename, *prefix)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func printObject(obj *object.CollaborativeObject) error {
	out := struct {
		ID        string `json:"id"`
		Document  any    `json:"document"`
		Heads     int    `json:"heads"`
		Discarded int    `json:"discarded"`
	}{obj.ID, obj.Document, len(obj.Heads), len(obj.Discarded)}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// loadIdentity derives a KeySigner from cfg.IdentitySeed (generating and
// printing a fresh one to stderr if none is configured) and treats the
// signer's own public key as authorizing itself — cobd has no separate
// identity-document chain, so every object it creates is self-authored.
func loadIdentity(cfg config.Config) (*identity.KeySigner, cid.Hash, error) {
	var seed []byte
	if cfg.IdentitySeed != "" {
		decoded, err := hex.DecodeString(cfg.IdentitySeed)
		if err != nil {
			return nil, cid.Hash{}, fmt.Errorf("decode identity_seed_hex: %w", err)
		}
		seed = decoded
	} else {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, cid.Hash{}, fmt.Errorf("generate identity seed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "cobd: no identity_seed_hex configured, generated one for this run: %s\n", hex.EncodeToString(seed))
	}

	signer, err := identity.NewKeySignerFromSeed(seed)
	if err != nil {
		return nil, cid.Hash{}, err
	}
	author := cid.Sum(signer.PublicKey())
	return signer, author, nil
}
