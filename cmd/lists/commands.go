package main

import (
	"fmt"
	"io"
	"os"

	"overture-lists/internal/geoip"
	"overture-lists/internal/logger"
	"overture-lists/internal/migrate"
	"overture-lists/internal/store"
	"overture-lists/internal/utils"

	"github.com/spf13/cobra"
)

func addCommands() {
	migrateCmd.Flags().Bool("reset", false, "drop all tables before migrating (destroys data)")
	rootCmd.AddCommand(migrateCmd)

	exportListCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportListCmd)

	exportMappingsCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportMappingsCmd)

	importLegacyCmd.Flags().String("type", string(store.ListTypeDivision), "list type of the files: division or client")
	rootCmd.AddCommand(importLegacyCmd)

	autoListCmd.Flags().String("parent", "", "parent division id (required)")
	autoListCmd.Flags().String("name", "", "list name (required)")
	autoListCmd.Flags().String("notes", "", "list notes")
	autoListCmd.Flags().String("admin-type", "", "use the admin hierarchy with this relationship type (reports_to, collaborates_with or any)")
	_ = autoListCmd.MarkFlagRequired("parent")
	_ = autoListCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(autoListCmd)

	rootCmd.AddCommand(purgeCmd)

	countryCmd.Flags().String("ip", "", "IP address to resolve (required)")
	_ = countryCmd.MarkFlagRequired("ip")
	rootCmd.AddCommand(countryCmd)

	rootCmd.AddCommand(statsCmd)
}

// migrateCmd：只打开库文件，不初始化数据源
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := utils.OpenSQLite(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			if err := migrate.DropSchema(db); err != nil {
				return err
			}
			logger.L().Warn("schema_dropped", "path", cfg.DBPath)
		}
		if err := migrate.EnsureSchema(db); err != nil {
			return err
		}
		logger.L().Info("schema_ready", "path", cfg.DBPath)
		return nil
	},
}

var exportListCmd = &cobra.Command{
	Use:   "export-list [list-id]",
	Short: "Export a saved list as JSON",
	Long:  `Export a list by numeric id or public list_id in the list document format.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		return withOutput(cmd, func(w io.Writer) error {
			return a.Service.ExportList(cmd.Context(), args[0], w)
		})
	},
}

var exportMappingsCmd = &cobra.Command{
	Use:   "export-mappings",
	Short: "Export all CRM mappings as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		return withOutput(cmd, func(w io.Writer) error {
			n, err := a.Service.ExportMappingsCSV(cmd.Context(), w)
			if err == nil {
				logger.L().Info("mappings_exported", "rows", n)
			}
			return err
		})
	},
}

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy [dir]",
	Short: "Import per-file legacy lists from a directory",
	Long: `Import every *.json list file in a directory. The file's list_id is kept as the public id.

Examples:
  lists import-legacy ./list_data
  lists import-legacy ./client_list_data --type client`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		t, _ := cmd.Flags().GetString("type")
		results, err := a.Service.ImportLegacyDir(cmd.Context(), args[0], store.ListType(t))
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Error != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", r.File, r.Error)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok   %s -> %s (%d members)\n", r.File, r.List.PublicID, r.List.MemberCount)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(results))
		}
		return nil
	},
}

var autoListCmd = &cobra.Command{
	Use:   "auto-list",
	Short: "Build a list from the children of a division",
	Long: `Build a division list from the direct children of a parent.

Without --admin-type the dataset hierarchy is used; with it the admin relationship table is used.

Examples:
  lists auto-list --parent <division-id> --name "US states"
  lists auto-list --parent <division-id> --name "Direct reports" --admin-type reports_to`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		parent, _ := cmd.Flags().GetString("parent")
		name, _ := cmd.Flags().GetString("name")
		notes, _ := cmd.Flags().GetString("notes")
		var l *store.List
		if cmd.Flags().Changed("admin-type") {
			t, _ := cmd.Flags().GetString("admin-type")
			if t == "any" {
				t = ""
			}
			l, err = a.Service.BuildFromAdmin(cmd.Context(), parent, store.RelationshipType(t), name, notes)
		} else {
			l, err = a.Service.BuildFromSpatial(cmd.Context(), parent, name, notes)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created list %d (%s) with %d members\n", l.ID, l.PublicID, l.MemberCount)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge [division-id]",
	Short: "Remove a cached division and everything that references it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		return a.Service.PurgeDivision(cmd.Context(), args[0])
	},
}

// countryCmd：只打开 geoip 库
var countryCmd = &cobra.Command{
	Use:   "country",
	Short: "Resolve an IP address to a country code",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := geoip.Open(cfg.GeoIPPath)
		if err != nil {
			return err
		}
		defer r.Close()
		ip, _ := cmd.Flags().GetString("ip")
		cc, err := r.CountryCode(ip)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cc)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		c, err := a.Service.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "divisions=%d lists=%d memberships=%d mappings=%d relationships=%d\n",
			c.Divisions, c.Lists, c.Memberships, c.Mappings, c.Relationships)
		return nil
	},
}

func withOutput(cmd *cobra.Command, fn func(w io.Writer) error) error {
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		return fn(cmd.OutOrStdout())
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
