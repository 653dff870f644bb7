package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/syncly/config"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/transfer"
	"github.com/jaywantadh/syncly/pkg/httpserver"
	"github.com/jaywantadh/syncly/pkg/logging"
)

func usageError(msg string) error {
	return &exitCodeError{code: exitFailure, msg: msg}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Aliases:   []string{"up"},
		Usage:     "Split a file and upload its chunks",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "chunk-size", Usage: "chunk size in bytes, at most 1 GiB (default from config)"},
			&cli.StringFlag{Name: "name", Usage: "manifest name (default: file base name)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError("upload requires exactly one file argument")
			}
			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			id, err := core.SplitAndUpload(c.Context, c.Args().First(), c.Int64("chunk-size"), c.String("name"))
			if err != nil {
				var uerr *transfer.UploadError
				if errors.As(err, &uerr) && len(uerr.Orphaned) > 0 {
					logging.Get().WithField("orphaned", len(uerr.Orphaned)).
						Warn("upload left unreferenced objects in the store")
				}
				return err
			}
			fmt.Fprintln(c.App.Writer, id)
			return nil
		},
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Aliases:   []string{"down"},
		Usage:     "Download the chunks of a manifest and merge them into a file",
		ArgsUsage: "<manifest-id> <output>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return usageError("download requires a manifest id and an output path")
			}
			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			return core.DownloadAndMerge(c.Context, c.Args().Get(0), c.Args().Get(1))
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List uploaded files",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: "case-insensitive name substring"},
			&cli.StringFlag{Name: "sort", Value: "source_name", Usage: "source_name, total_size or created_at"},
			&cli.BoolFlag{Name: "desc", Usage: "sort descending"},
			&cli.IntFlag{Name: "limit", Usage: "maximum number of results"},
		},
		Action: func(c *cli.Context) error {
			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			q := metadata.SearchQuery{
				Query:  c.String("filter"),
				SortBy: c.String("sort"),
				Limit:  c.Int("limit"),
			}
			if c.Bool("desc") {
				q.SortOrder = "desc"
			}
			list, err := core.List(c.Context, q)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tCHUNKS\tCREATED")
			for _, m := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					m.SourceName,
					transfer.FormatBytes(m.TotalSize),
					m.NumChunks(),
					time.Unix(m.CreatedAt, 0).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print a manifest as JSON",
		ArgsUsage: "<manifest-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError("inspect requires a manifest id")
			}
			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			m, err := core.Manifest(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a manifest, and with --purge its chunk objects",
		ArgsUsage: "<manifest-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "purge", Usage: "also delete the stored chunks"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError("delete requires a manifest id")
			}
			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			return core.Remove(c.Context, c.Args().First(), c.Bool("purge"))
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show storage usage",
		Action: func(c *cli.Context) error {
			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			u, supported, err := core.Usage(c.Context)
			if err != nil {
				return err
			}
			if !supported {
				fmt.Fprintf(c.App.Writer, "backend %s does not report usage\n", config.Config.Store.Type)
				return nil
			}

			limit := "unlimited"
			free := "unlimited"
			if u.Limit > 0 {
				limit = transfer.FormatBytes(u.Limit)
				free = transfer.FormatBytes(u.Free())
			}
			fmt.Fprintf(c.App.Writer, "backend: %s\nobjects: %d\nused:    %s\nlimit:   %s\nfree:    %s\n",
				u.Backend, u.Objects, transfer.FormatBytes(u.Used), limit, free)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			port := config.Config.Server.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}

			e, err := httpserver.NewEcho(core, logging.Get())
			if err != nil {
				return err
			}
			go pruneTransfers(c.Context, core.Tracker(), time.Minute, time.Hour)

			addr := ":" + strconv.Itoa(port)
			logging.Get().WithField("addr", addr).Info("serving HTTP API")
			return httpserver.Serve(c.Context, e, addr)
		},
	}
}

// pruneTransfers drops finished transfer snapshots older than maxAge until ctx ends.
func pruneTransfers(ctx context.Context, tracker *transfer.ProgressTracker, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tracker.Prune(maxAge); n > 0 {
				logging.Get().WithField("pruned", n).Debug("dropped finished transfers")
			}
		}
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Rebuild a manifest in memory and compare it with a local file",
		ArgsUsage: "<manifest-id> <file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return usageError("verify requires a manifest id and a local file")
			}
			want, err := sha256File(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("%w: %w", transfer.ErrSourceRead, err)
			}

			core, err := openCore(c)
			if err != nil {
				return err
			}
			defer core.Close()

			h := sha256.New()
			if _, err := core.Reconstruct(c.Context, c.Args().Get(0), h); err != nil {
				return err
			}
			got := hex.EncodeToString(h.Sum(nil))
			if got != want {
				return &exitCodeError{code: exitTransfer, msg: fmt.Sprintf("mismatch: stored %s, local %s", got, want)}
			}
			fmt.Fprintf(c.App.Writer, "ok %s\n", got)
			return nil
		},
	}
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
