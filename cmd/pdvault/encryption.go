package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage the field encryption toggle",
}

var encryptionEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable field encryption, converting stored data in place",
	RunE: func(cmd *cobra.Command, args []string) error {
		if vlt.EncryptionEnabled() {
			fmt.Println("Field encryption is already enabled.")
			return nil
		}

		code, err := readPasscode("Passcode: ")
		if err != nil {
			return err
		}
		// Entry goes through the gate so the attempt ladder applies
		// and the gate state tracks the loaded key.
		if err := gate.SubmitPasscode(code); err != nil {
			return err
		}
		if err := vlt.EnableEncryption(code); err != nil {
			return err
		}

		fmt.Println("Field encryption enabled.")
		return nil
	},
}

var encryptionDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable field encryption, decrypting stored data in place",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !vlt.EncryptionEnabled() {
			fmt.Println("Field encryption is not enabled.")
			return nil
		}

		if err := unlockInteractive(); err != nil {
			return err
		}
		if err := vlt.DisableEncryption(); err != nil {
			return err
		}

		fmt.Println("Field encryption disabled. Data is stored in plaintext.")
		return nil
	},
}

func init() {
	encryptionCmd.AddCommand(encryptionEnableCmd)
	encryptionCmd.AddCommand(encryptionDisableCmd)
}
