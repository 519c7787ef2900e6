package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rickchristie/sql-mcp/internal/keychain"
)

var keychainCmd = &cobra.Command{
	Use:   "keychain",
	Short: "Manage database passwords in the OS keychain",
	Long: `Store the database password in the OS credential store instead of the config
file. Reference it with connection.keychain_key; serve injects it into
connection.url at startup.`,
}

var keychainSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a password under key (prompted, or read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := keychain.NewManager()
		if err != nil {
			return err
		}
		secret, err := readSecret(os.Stdin, isTTY(os.Stdin.Fd()))
		if err != nil {
			return err
		}
		return keychainSet(cmd.OutOrStdout(), m, args[0], secret)
	},
}

var keychainDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove the password stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := keychain.NewManager()
		if err != nil {
			return err
		}
		return keychainDelete(cmd.OutOrStdout(), m, args[0])
	},
}

func init() {
	keychainCmd.AddCommand(keychainSetCmd)
	keychainCmd.AddCommand(keychainDeleteCmd)
}

type secretStore interface {
	Set(key, secret string) error
	Delete(key string) error
}

func keychainSet(w io.Writer, store secretStore, key, secret string) error {
	if err := store.Set(key, secret); err != nil {
		return err
	}
	pterm.Success.WithWriter(w).Printfln("Password stored in the OS keychain under %q", key)
	pterm.Fprintln(w, fmt.Sprintf("Set connection.keychain_key: %s in your config to use it.", key))
	return nil
}

func keychainDelete(w io.Writer, store secretStore, key string) error {
	err := store.Delete(key)
	if errors.Is(err, keychain.ErrNotFound) {
		pterm.Warning.WithWriter(w).Printfln("No password stored under %q", key)
		return nil
	}
	if err != nil {
		return err
	}
	pterm.Success.WithWriter(w).Printfln("Password under %q removed from the OS keychain", key)
	return nil
}

// readSecret prompts without echo on a terminal, otherwise reads the first
// line of r so the password can be piped in.
func readSecret(r io.Reader, interactive bool) (string, error) {
	var secret string
	if interactive {
		s, err := promptPassword("Password: ")
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		secret = s
	} else {
		scanner := bufio.NewScanner(r)
		if scanner.Scan() {
			secret = strings.TrimRight(scanner.Text(), "\r\n")
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
	}
	if secret == "" {
		return "", errors.New("password must not be empty")
	}
	return secret, nil
}
