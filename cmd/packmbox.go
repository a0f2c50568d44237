package cmd

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/cobra"

	"github.com/dhcgn/pmmail-to-eml/names"
)

// PackMboxCmd bundles each folder of a converted EML tree into a single
// mbox file, for mail clients that import mbox rather than loose EMLs.
func PackMboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack-mbox [converted dir] [output dir]",
		Short: "Bundle each converted folder into one mbox file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, outDir := args[0], args[1]

			groups, err := collectEMLs(root)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("No .eml files found under", root)
				return nil
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			folders := make([]string, 0, len(groups))
			for folder := range groups {
				folders = append(folders, folder)
			}
			sort.Strings(folders)

			packed := 0
			for _, folder := range folders {
				files := groups[folder]
				sort.Strings(files)

				outPath := filepath.Join(outDir, mboxName(folder))
				n, err := packFolder(outPath, files)
				if err != nil {
					return fmt.Errorf("pack %s: %w", folder, err)
				}
				fmt.Printf("%s: %d messages\n", outPath, n)
				packed += n
			}

			fmt.Printf("Packed %d messages into %d mbox files\n", packed, len(folders))
			return nil
		},
	}
}

func mboxName(folder string) string {
	if folder == "." || folder == "" {
		return "root.mbox"
	}
	flat := strings.ReplaceAll(folder, string(filepath.Separator), "_")
	return names.Sanitize(flat) + ".mbox"
}

func packFolder(outPath string, files []string) (int, error) {
	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := mboxlib.NewWriter(out)
	count := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return count, fmt.Errorf("read %s: %w", path, err)
		}

		from, date := envelopeSender(raw)
		mw, err := w.CreateMessage(from, date)
		if err != nil {
			return count, fmt.Errorf("create mbox message for %s: %w", path, err)
		}
		if _, err := io.Copy(mw, bytes.NewReader(raw)); err != nil {
			return count, fmt.Errorf("write mbox message for %s: %w", path, err)
		}
		count++
	}

	if err := w.Close(); err != nil {
		return count, fmt.Errorf("close mbox writer: %w", err)
	}
	return count, nil
}

// envelopeSender derives the mbox From_ line fields from the message
// headers, with the conventional fallback sender.
func envelopeSender(raw []byte) (string, time.Time) {
	from := "MAILER-DAEMON"
	date := time.Unix(0, 0).UTC()

	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return from, date
	}
	if addr, err := netmail.ParseAddress(msg.Header.Get("From")); err == nil && addr.Address != "" {
		from = addr.Address
	}
	if t, err := netmail.ParseDate(msg.Header.Get("Date")); err == nil {
		date = t
	}
	return from, date
}
