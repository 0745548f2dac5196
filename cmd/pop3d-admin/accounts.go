package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/migadu/pop3d/consts"
	"github.com/migadu/pop3d/db"
	"github.com/migadu/pop3d/logger"
)

func handleAddAccount(ctx context.Context) {
	fs := flag.NewFlagSet("add-account", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	address := fs.String("address", "", "Address of the new account (required)")
	password := fs.String("password", "", "Password for the new account (required)")
	apopSecret := fs.String("apop-secret", "", "Shared secret enabling APOP for the account")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin add-account --address <address> --password <password> [--apop-secret <secret>]")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if *address == "" || *password == "" {
		fs.Usage()
		os.Exit(1)
	}

	database, _, err := openDatabase(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer database.Close()

	id, err := database.CreateAccount(ctx, *address, *password, *apopSecret)
	if err != nil {
		if errors.Is(err, consts.ErrUserExists) {
			fatal(fmt.Errorf("account %s already exists", *address))
		}
		fatal(err)
	}
	logger.Info("Created account", "account_id", id, "address", *address, "apop", *apopSecret != "")
	fmt.Printf("Created account %s (id %d)\n", *address, id)
}

func handlePasswd(ctx context.Context) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	address := fs.String("address", "", "Address of the account (required)")
	password := fs.String("password", "", "New password (required)")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin passwd --address <address> --password <password>")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if *address == "" || *password == "" {
		fs.Usage()
		os.Exit(1)
	}

	database, _, err := openDatabase(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer database.Close()

	if err := database.SetPassword(ctx, *address, *password); err != nil {
		fatal(accountError(*address, err))
	}
	fmt.Printf("Updated password for %s\n", *address)
}

func handleSetAPOP(ctx context.Context) {
	fs := flag.NewFlagSet("set-apop", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	address := fs.String("address", "", "Address of the account (required)")
	secret := fs.String("secret", "", "APOP shared secret; empty disables APOP")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin set-apop --address <address> [--secret <secret>]")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if *address == "" {
		fs.Usage()
		os.Exit(1)
	}

	database, _, err := openDatabase(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer database.Close()

	if err := database.SetAPOPSecret(ctx, *address, *secret); err != nil {
		fatal(accountError(*address, err))
	}
	if *secret == "" {
		fmt.Printf("Disabled APOP for %s\n", *address)
	} else {
		fmt.Printf("Updated APOP secret for %s\n", *address)
	}
}

func handleDeleteAccount(ctx context.Context) {
	fs := flag.NewFlagSet("delete-account", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	address := fs.String("address", "", "Address of the account (required)")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin delete-account --address <address>")
		fmt.Println("Deletes the account, its messages and their stored bodies.")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if *address == "" {
		fs.Usage()
		os.Exit(1)
	}

	database, cfg, err := openDatabase(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer database.Close()

	keys, err := database.DeleteAccount(ctx, *address)
	if err != nil {
		fatal(accountError(*address, err))
	}

	if len(keys) > 0 {
		blobs, err := openBlobStore(ctx, cfg)
		if err != nil || blobs == nil {
			logger.Warn("Account deleted but its message bodies could not be removed", "count", len(keys), "error", err)
		} else {
			for _, key := range keys {
				if err := blobs.Delete(ctx, key); err != nil {
					logger.Warn("Failed to delete message body", "key", key, "error", err)
				}
			}
		}
	}
	fmt.Printf("Deleted account %s\n", *address)
}

func handleListAccounts(ctx context.Context) {
	fs := flag.NewFlagSet("list-accounts", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Parse(os.Args[2:])

	database, _, err := openDatabase(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer database.Close()

	accounts, err := database.ListAccounts(ctx)
	if err != nil {
		fatal(err)
	}
	if err := printAccounts(os.Stdout, accounts, *jsonOutput); err != nil {
		fatal(err)
	}
}

func printAccounts(w io.Writer, accounts []db.AccountSummary, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(accounts)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(w, "No accounts found.")
		return nil
	}

	fmt.Fprintf(w, "%-8s %-30s %-5s %-10s %-12s %-20s\n", "ID", "Address", "APOP", "Messages", "Bytes", "Created")
	fmt.Fprintf(w, "%-8s %-30s %-5s %-10s %-12s %-20s\n", "--", "-------", "----", "--------", "-----", "-------")
	for _, a := range accounts {
		apop := "no"
		if a.APOP {
			apop = "yes"
		}
		fmt.Fprintf(w, "%-8d %-30s %-5s %-10d %-12d %-20s\n",
			a.ID, a.Address, apop, a.Messages, a.Bytes, a.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "\nTotal accounts: %d\n", len(accounts))
	return nil
}

func accountError(address string, err error) error {
	if errors.Is(err, consts.ErrUserNotFound) {
		return fmt.Errorf("account %s does not exist", address)
	}
	return err
}
