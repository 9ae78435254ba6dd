package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the security audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log HMAC chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlockInteractive(); err != nil {
			return err
		}

		result, err := vlt.VerifyAudit()
		if err != nil {
			return err
		}

		fmt.Printf("Records:  %d total, %d verified\n", result.RecordsTotal, result.RecordsVerified)
		if result.Valid {
			fmt.Println("Chain:    intact")
			return nil
		}
		fmt.Println("Chain:    BROKEN")
		for _, e := range result.Errors {
			fmt.Println("  -", e)
		}
		return fmt.Errorf("audit chain verification failed")
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}
