package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/escrow"
)

var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Manage biometric unlock enrollment",
}

var biometricEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Escrow the passcode for biometric unlock",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !vlt.EscrowAvailable() {
			return escrow.ErrUnavailable
		}

		code, err := readPasscode("Passcode: ")
		if err != nil {
			return err
		}
		if err := vlt.EnrollEscrow(code); err != nil {
			return err
		}

		fmt.Println("Biometric unlock enrolled.")
		return nil
	},
}

var biometricRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the escrowed passcode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := vlt.RemoveEscrow(); err != nil {
			return err
		}
		fmt.Println("Biometric unlock removed.")
		return nil
	},
}

var biometricUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock with the escrowed passcode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := gate.AssertBiometric(); err != nil {
			return err
		}
		fmt.Println("Unlocked.")
		return nil
	},
}

func init() {
	biometricCmd.AddCommand(biometricEnrollCmd)
	biometricCmd.AddCommand(biometricRemoveCmd)
	biometricCmd.AddCommand(biometricUnlockCmd)
}
