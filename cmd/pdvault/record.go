package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/store"
)

var recordFields []string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Read and write vault records",
}

var recordPutCmd = &cobra.Command{
	Use:   "put <collection> [id]",
	Short: "Insert or update a record",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlockInteractive(); err != nil {
			return err
		}

		fields := make(map[string]string)
		for _, kv := range recordFields {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --field %q, want name=value", kv)
			}
			fields[name] = value
		}

		rec := &store.Record{Fields: fields}
		if len(args) == 2 {
			rec.ID = args[1]
		}
		if err := recordStore.Put(args[0], rec); err != nil {
			return err
		}

		fmt.Println(rec.ID)
		return nil
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Show one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlockInteractive(); err != nil {
			return err
		}

		rec, err := recordStore.Get(args[0], args[1])
		if err != nil {
			return err
		}
		return printRecord(rec)
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List every record of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlockInteractive(); err != nil {
			return err
		}

		records, err := recordStore.List(args[0])
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := printRecord(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := recordStore.Delete(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	},
}

func printRecord(rec *store.Record) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"id":         rec.ID,
		"fields":     rec.Fields,
		"created_at": rec.CreatedAt,
		"updated_at": rec.UpdatedAt,
	})
}

func init() {
	recordPutCmd.Flags().StringArrayVar(&recordFields, "field", nil, "Field value (name=value, can be repeated)")

	recordCmd.AddCommand(recordPutCmd)
	recordCmd.AddCommand(recordGetCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordDeleteCmd)
}
