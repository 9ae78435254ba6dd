package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault state",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Data directory:    %s\n", cfg.DataDir)
		fmt.Printf("Gate state:        %s\n", gate.State())
		fmt.Printf("Passcode set:      %t\n", vlt.HasPasscode())
		fmt.Printf("Encryption:        %t\n", vlt.EncryptionEnabled())
		if vlt.EncryptionEnabled() {
			fmt.Printf("Schema version:    %d\n", vlt.SchemaVersion())
		}
		fmt.Printf("Biometric escrow:  %t\n", vlt.EscrowEnrolled())
		if n := gate.FailedAttempts(); n > 0 {
			fmt.Printf("Failed attempts:   %d\n", n)
		}
		if remaining := gate.LockoutRemaining(); remaining > 0 {
			fmt.Printf("Locked out for:    %s\n", remaining.Round(time.Second))
		}
		return nil
	},
}
