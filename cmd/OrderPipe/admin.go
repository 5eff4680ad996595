package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/OrderPipe/internal/directory"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// backuper is implemented by stores that can snapshot themselves.
type backuper interface {
	Backup(ctx context.Context, dest string) error
}

func newSeedCmd(configPath *string) *cobra.Command {
	var skipProducts, skipClients bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision the client and product directory with sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if skipProducts && skipClients {
				return errors.New("nothing to seed: both --skip-products and --skip-clients are set")
			}

			dir, err := directory.Open(cfg.DirectoryDSN)
			if err != nil {
				return fmt.Errorf("open directory: %w", err)
			}
			defer dir.Close()

			data := directory.DefaultSeed()
			switch {
			case skipProducts:
				data = data.ClientsOnly()
			case skipClients:
				data = data.ProductsOnly()
			}
			res, err := dir.Seed(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d clients and %d products\n", res.Clients, res.Products)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipProducts, "skip-products", false, "do not seed products")
	cmd.Flags().BoolVar(&skipClients, "skip-clients", false, "do not seed clients")
	return cmd
}

func newExportProductsCmd(configPath *string) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export-products",
		Short: "Write the product catalog as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			dir, err := directory.Open(cfg.DirectoryDSN)
			if err != nil {
				return fmt.Errorf("open directory: %w", err)
			}
			defer dir.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			n, err := dir.ExportProducts(cmd.Context(), w)
			if err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d products to %s\n", n, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newBackupCmd(configPath *string) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the bot database (SQLite only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if store.DetectDSNType(cfg.DatabaseURL) == "postgres" {
				return errors.New("backup supports SQLite only; use pg_dump for PostgreSQL")
			}

			st, err := store.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			b, ok := st.(backuper)
			if !ok {
				return errors.New("store does not support backups")
			}
			dest := out
			if dest == "" {
				dest = filepath.Join(cfg.StateDir, "backups",
					fmt.Sprintf("orderpipe-%s.db", time.Now().UTC().Format("20060102-150405")))
			}
			if err := b.Backup(cmd.Context(), dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "backup file (default <state dir>/backups/orderpipe-<timestamp>.db)")
	return cmd
}

func newOrderStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "order-status <order-id> <status>",
		Short: "Set the status of a recorded order",
		Long:  "Valid statuses: pending, confirmed, processing, completed, cancelled.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, status := args[0], models.OrderStatus(args[1])
			if !status.IsValid() {
				return fmt.Errorf("%w: %q", models.ErrInvalidOrderStatus, args[1])
			}
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.UpdateOrderStatus(cmd.Context(), id, status); err != nil {
				return fmt.Errorf("update order %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Order %s is now %s\n", id, status)
			return nil
		},
	}
}
