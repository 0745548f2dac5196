package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/migadu/pop3d/consts"
	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/mailstore"
)

func handleImport(ctx context.Context) {
	flags := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := flags.String("config", "config.toml", "Path to TOML configuration file")
	address := flags.String("address", "", "Maildrop to deliver into (required)")
	flags.Usage = func() {
		fmt.Println("Usage: pop3d-admin import --address <address> <file.eml|directory>...")
		fmt.Println("Delivers RFC 5322 messages. Directories are walked recursively.")
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[2:])

	if *address == "" || flags.NArg() == 0 {
		flags.Usage()
		os.Exit(1)
	}

	database, cfg, err := openDatabase(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer database.Close()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		fatal(err)
	}

	imp := &importer{store: mailstore.New(database, blobs), address: *address}
	for _, path := range flags.Args() {
		if err := imp.importPath(ctx, path); err != nil {
			fatal(err)
		}
	}
	fmt.Printf("Imported %d message(s), skipped %d duplicate(s), %d failed\n", imp.imported, imp.skipped, imp.failed)
}

type importer struct {
	store   *mailstore.Store
	address string

	imported int
	skipped  int
	failed   int
}

func (i *importer) importPath(ctx context.Context, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return i.importFile(ctx, root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isMessageFile(d.Name()) {
			return nil
		}
		return i.importFile(ctx, path)
	})
}

// isMessageFile accepts .eml files and Maildir entries, skipping dotfiles
// and Maildir bookkeeping.
func isMessageFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch name {
	case "dovecot-uidlist", "dovecot-uidvalidity", "dovecot.index", "subscriptions", "maildirfolder":
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".eml" || ext == "" || strings.Contains(name, ":2,")
}

func (i *importer) importFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	err = i.store.Deliver(ctx, i.address, messageUID(raw), raw)
	switch {
	case err == nil:
		i.imported++
		logger.Debug("Imported message", "path", path)
	case errors.Is(err, consts.ErrMessageExists):
		i.skipped++
		logger.Info("Message already in maildrop, skipping", "path", path)
	case errors.Is(err, consts.ErrUserNotFound):
		return fmt.Errorf("account %s does not exist", i.address)
	default:
		i.failed++
		logger.Warn("Failed to import message", "path", path, "error", err)
	}
	return nil
}

// messageUID uses the Message-ID as the unique-id when it is a valid one,
// and the content hash otherwise.
func messageUID(raw []byte) string {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && r == nil {
		return ""
	}
	defer r.Close()

	id, err := r.Header.MessageID()
	if err != nil || !mailstore.ValidUID(id) {
		return ""
	}
	return id
}
