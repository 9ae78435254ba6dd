package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mjj2333/escortcrm-pwa-sub002/internal/config"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/audit"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/escrow"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/settings"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/store"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/vault"
)

var (
	configPath string

	cfg *config.Config
	log zerolog.Logger

	recordStore   *store.Store
	settingsStore *settings.Store
	vlt           *vault.Vault
	gate          *vault.Gate
)

var rootCmd = &cobra.Command{
	Use:   "pdvault",
	Short: "pdvault manages the encrypted local vault of the personal data manager",
	Long: `pdvault is the command-line surface of the encrypted vault layer:
passcode setup and change, field encryption toggles, biometric
enrollment, record access, and audit chain verification.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}

		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("unknown log level %q", cfg.LogLevel)
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		recordStore, err = store.Open(filepath.Join(cfg.DataDir, "records.db"))
		if err != nil {
			return err
		}
		settingsStore, err = settings.Open(filepath.Join(cfg.DataDir, "settings.db"))
		if err != nil {
			return err
		}

		esc := escrow.NewKeyring(cfg.DataDir)
		auditLog := audit.NewLogger(filepath.Join(cfg.DataDir, "audit"))

		vlt = vault.New(recordStore, settingsStore, esc, auditLog, log)
		gate = vault.NewGate(vlt)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if vlt != nil {
			vlt.Lock()
		}
		if recordStore != nil {
			_ = recordStore.Close()
		}
		if settingsStore != nil {
			_ = settingsStore.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.pdvault/config.yaml)")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(encryptionCmd)
	rootCmd.AddCommand(biometricCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(auditCmd)
}

// readPasscode prompts for a passcode without echoing.
func readPasscode(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passcode: %w", err)
	}
	return string(raw), nil
}

// unlockInteractive walks the gate until it is unlocked, prompting as
// needed. Handles the setup flow transparently on first run.
func unlockInteractive() error {
	for {
		switch gate.State() {
		case vault.StateUnlocked:
			return nil

		case vault.StateSetupFirst:
			fmt.Println("No passcode configured. Setting one up.")
			code, err := readPasscode("Choose a 4-digit passcode: ")
			if err != nil {
				return err
			}
			if err := gate.SubmitPasscode(code); err != nil {
				fmt.Println(err)
				continue
			}

		case vault.StateSetupConfirm:
			code, err := readPasscode("Confirm passcode: ")
			if err != nil {
				return err
			}
			if err := gate.SubmitPasscode(code); err != nil {
				fmt.Println(err)
				continue
			}

		case vault.StateLocked:
			code, err := readPasscode("Passcode: ")
			if err != nil {
				return err
			}
			if err := gate.SubmitPasscode(code); err != nil {
				if errors.Is(err, vault.ErrWiped) {
					return err
				}
				fmt.Println(err)
				if gate.State() == vault.StateLockedOut {
					return vault.ErrLockedOut
				}
				continue
			}

		case vault.StateLockedOut:
			return fmt.Errorf("%w (%s remaining)", vault.ErrLockedOut, gate.LockoutRemaining())

		case vault.StateWiping:
			return vault.ErrWiped

		default:
			return fmt.Errorf("unexpected gate state %s", gate.State())
		}
	}
}
