package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/vault"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up the vault passcode and enable field encryption",
	RunE: func(cmd *cobra.Command, args []string) error {
		if vlt.HasPasscode() {
			return fmt.Errorf("passcode already configured, use 'pdvault passwd' to change it")
		}

		code, err := readPasscode("Choose a 4-digit passcode: ")
		if err != nil {
			return err
		}
		if err := gate.SubmitPasscode(code); err != nil {
			return err
		}

		confirm, err := readPasscode("Confirm passcode: ")
		if err != nil {
			return err
		}
		if err := gate.SubmitPasscode(confirm); err != nil {
			return err
		}

		fmt.Println("Vault initialized. Field encryption is enabled.")
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Verify the passcode and run any pending schema migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlockInteractive(); err != nil {
			return err
		}
		fmt.Println("Unlocked.")
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the vault passcode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !vlt.HasPasscode() {
			return fmt.Errorf("no passcode configured, use 'pdvault setup' first")
		}
		if err := unlockInteractive(); err != nil {
			return err
		}

		current, err := readPasscode("Current passcode: ")
		if err != nil {
			return err
		}
		next, err := readPasscode("New passcode: ")
		if err != nil {
			return err
		}
		confirm, err := readPasscode("Confirm new passcode: ")
		if err != nil {
			return err
		}
		if next != confirm {
			return vault.ErrPasscodeMismatch
		}

		if err := vlt.ChangePasscode(current, next); err != nil {
			return err
		}

		fmt.Println("Passcode changed.")
		if vlt.EscrowAvailable() && !vlt.EscrowEnrolled() {
			fmt.Println("Note: biometric unlock needs re-enrollment (pdvault biometric enroll).")
		}
		return nil
	},
}
