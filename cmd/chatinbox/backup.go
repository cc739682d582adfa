package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatinbox/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database and config file",
		Long: `Creates a .tar.gz archive with the SQLite database (plus its WAL files)
and the configuration file. Restore with 'chatinbox backup restore'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, "chatinbox-"+time.Now().Format("20060102-150405")+".tar.gz")
			}

			files := existing(cfgPath, cfg.Database.Path, cfg.Database.Path+"-wal", cfg.Database.Path+"-shm")
			if len(files) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", cfg.Database.Path, cfgPath)
			}
			if err := writeArchive(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Fprintf(out, "  - %s (%s)\n", filepath.Base(f), humanize.Bytes(size))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ~/.chatinbox/backups/chatinbox-<timestamp>.tar.gz)")
	cmd.AddCommand(restoreCmd())
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Restore the database and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := config.Defaults().Database.Path
			if cfg, err := config.Load(cfgPath); err == nil {
				dbPath = cfg.Database.Path
			}
			dbPath = config.ExpandPath(dbPath)

			if !force && len(existing(cfgPath, dbPath)) > 0 {
				return fmt.Errorf("restore would overwrite %s and %s (use --force)", cfgPath, dbPath)
			}

			restored, err := extractArchive(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d file(s) from %s\n", len(restored), args[0])
			for _, f := range restored {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data")
	return cmd
}

func existing(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func writeArchive(outputPath string, files []string) (err error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, p := range files {
		if err := addToArchive(tw, p); err != nil {
			return fmt.Errorf("add %s: %w", p, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// archiveTarget maps an archived base name back onto the configured paths.
// Unknown entries are skipped.
func archiveTarget(name, dbPath, cfgPath string) string {
	dbBase := filepath.Base(dbPath)
	switch {
	case name == filepath.Base(cfgPath):
		return cfgPath
	case name == dbBase:
		return dbPath
	case strings.HasPrefix(name, dbBase+"-"):
		return dbPath + strings.TrimPrefix(name, dbBase)
	}
	return ""
}

func extractArchive(archivePath, dbPath, cfgPath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, err
		}
		target := archiveTarget(filepath.Base(hdr.Name), dbPath, cfgPath)
		if target == "" {
			logger.Warn("skipping unknown archive entry", "name", hdr.Name)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return restored, err
		}
		out, err := os.Create(target)
		if err != nil {
			return restored, fmt.Errorf("create %s: %w", target, err)
		}
		_, err = io.Copy(out, tr)
		out.Close()
		if err != nil {
			return restored, fmt.Errorf("extract %s: %w", target, err)
		}
		restored = append(restored, target)
	}
	return restored, nil
}
