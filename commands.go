package main

import (
	"fmt"
	"os"
	"path/filepath"

	"courtcrawl/internal/report"
	"courtcrawl/internal/sink"
	"courtcrawl/internal/site"
	"courtcrawl/internal/workkey"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [FILE]",
		Short: "Crawl only the keys listed in a missing file",
		Long: `retry reads work keys, one per line, from FILE (or the configured missing
file) and crawls just those. Lines may hold key IDs or, for report sites, the
artifact file names.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, log, err := setup(cmd)
			if err != nil {
				return err
			}
			path := cfg.Output.Missing
			if len(args) == 1 {
				path = args[0]
			}
			lines, err := report.ReadMissing(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			var keys []workkey.Key
			for _, line := range lines {
				k, err := s.ParseKey(cfg, line)
				if err != nil {
					log.Warn("skipping unreadable key", "line", line, "err", err)
					continue
				}
				keys = append(keys, k)
			}
			if len(keys) == 0 {
				fmt.Fprintf(os.Stderr, "Nothing to retry in %s\n", path)
				return nil
			}
			return crawl(cmd.Context(), cfg, s, keys, log)
		},
	}
}

func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the work keys a run would visit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, s, log, err := setup(cmd)
			if err != nil {
				return err
			}
			keys, err := s.Keys(cfg)
			if err != nil {
				log.Warn("some work keys skipped", "err", err)
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"#", "Key"})
			for i, k := range keys {
				t.AppendRow(table.Row{i + 1, k.ID()})
			}
			t.AppendFooter(table.Row{"", fmt.Sprintf("%d keys", len(keys))})
			t.Render()
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how much the output already holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, s, _, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			tables := s.Tables()
			if len(tables) == 0 {
				files, err := filepath.Glob(filepath.Join(cfg.Capture.Dir, "*.xls"))
				if err != nil {
					return err
				}
				fmt.Printf("%d reports filed in %s\n", len(files), cfg.Capture.Dir)
				return nil
			}

			sk, err := sink.Open(ctx, cfg.Output.Config)
			if err != nil {
				return fmt.Errorf("failed to open sink: %w", err)
			}
			defer sk.Close()

			counts := make([]report.TableCount, 0, len(tables))
			for _, t := range tables {
				ok, err := sk.Exists(ctx, t.Name)
				if err != nil {
					return err
				}
				c := report.TableCount{Table: t.Name, Exists: ok}
				if ok {
					if c.Rows, err = sk.Count(ctx, t.Name); err != nil {
						return err
					}
				}
				counts = append(counts, c)
			}
			report.WriteCounts(os.Stdout, counts)
			return nil
		},
	}
}

func sitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the supported sites",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range site.Names() {
				s, _ := site.Get(name)
				fmt.Printf("%-10s %s\n", name, s.Description())
			}
		},
	}
}
