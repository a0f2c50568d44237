package cmd

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	netmail "net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/spf13/cobra"
)

// UploadCmd appends an already converted EML tree into an IMAP account,
// creating one mailbox per folder.
func UploadCmd() *cobra.Command {
	var (
		host               string
		port               int
		user               string
		pass               string
		useTLS             bool
		insecureSkipVerify bool
		prefix             string
		dryRun             bool
	)

	cmd := &cobra.Command{
		Use:   "upload [converted dir]",
		Short: "Upload a converted EML tree into an IMAP mailbox hierarchy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			if pass == "" {
				pass = os.Getenv("IMAP_PASS")
			}
			if pass == "" {
				return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
			}

			groups, err := collectEMLs(root)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("No .eml files found under", root)
				return nil
			}

			up := &uploader{
				host:               host,
				port:               port,
				user:               user,
				pass:               pass,
				useTLS:             useTLS,
				insecureSkipVerify: insecureSkipVerify,
				prefix:             prefix,
				dryRun:             dryRun,
			}
			return up.run(groups)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "imap-host", "", "IMAP server hostname")
	flags.IntVar(&port, "imap-port", 993, "IMAP server port")
	flags.StringVar(&user, "imap-user", "", "IMAP username")
	flags.StringVar(&pass, "imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.BoolVar(&useTLS, "use-tls", true, "Use TLS for the IMAP connection")
	flags.BoolVar(&insecureSkipVerify, "insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.StringVar(&prefix, "folder-prefix", "", "Mailbox name prefix for all uploaded folders")
	flags.BoolVar(&dryRun, "dry-run", false, "List what would be uploaded without connecting")

	_ = cmd.MarkFlagRequired("imap-host")
	_ = cmd.MarkFlagRequired("imap-user")

	return cmd
}

// collectEMLs groups converted message files by their folder path relative
// to the tree root.
func collectEMLs(root string) (map[string][]string, error) {
	groups := map[string][]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".eml") {
			return nil
		}
		rel, relErr := filepath.Rel(root, filepath.Dir(path))
		if relErr != nil {
			return relErr
		}
		groups[rel] = append(groups[rel], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk converted tree: %w", err)
	}
	return groups, nil
}

type uploader struct {
	host               string
	port               int
	user               string
	pass               string
	useTLS             bool
	insecureSkipVerify bool
	prefix             string
	dryRun             bool
}

func (u *uploader) run(groups map[string][]string) error {
	folders := make([]string, 0, len(groups))
	for folder := range groups {
		folders = append(folders, folder)
	}
	sort.Strings(folders)

	if u.dryRun {
		for _, folder := range folders {
			fmt.Printf("%s: %d messages -> mailbox %q\n", folder, len(groups[folder]), u.mailboxName(folder))
		}
		return nil
	}

	client, err := u.dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Logout().Wait()
		_ = client.Close()
	}()

	uploaded := 0
	for _, folder := range folders {
		mailbox := u.mailboxName(folder)
		if err := u.ensureMailbox(client, mailbox); err != nil {
			return err
		}
		for _, path := range groups[folder] {
			if err := u.appendFile(client, mailbox, path); err != nil {
				return fmt.Errorf("upload %s: %w", path, err)
			}
			uploaded++
		}
	}

	fmt.Printf("Uploaded %d messages into %d mailboxes\n", uploaded, len(folders))
	return nil
}

func (u *uploader) mailboxName(folder string) string {
	if folder == "." || folder == "" {
		if u.prefix != "" {
			return u.prefix
		}
		return "INBOX"
	}
	name := strings.ReplaceAll(folder, string(filepath.Separator), "/")
	if u.prefix != "" {
		return u.prefix + "/" + name
	}
	return name
}

func (u *uploader) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(u.host, strconv.Itoa(u.port))
	options := &imapclient.Options{}

	if u.useTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.host,
			InsecureSkipVerify: u.insecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if u.useTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.user, u.pass).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}
	return client, nil
}

func (u *uploader) ensureMailbox(client *imapclient.Client, mailbox string) error {
	if err := client.Create(mailbox, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", mailbox, err)
	}
	return nil
}

func (u *uploader) appendFile(client *imapclient.Client, mailbox, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var opts *imapv2.AppendOptions
	if t := messageDate(raw); !t.IsZero() {
		opts = &imapv2.AppendOptions{Time: t}
	}

	cmd := client.Append(mailbox, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}
	return nil
}

// messageDate extracts the Date header from raw EML bytes for the IMAP
// internal date.
func messageDate(raw []byte) time.Time {
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return time.Time{}
	}
	if date := msg.Header.Get("Date"); date != "" {
		if t, err := netmail.ParseDate(date); err == nil {
			return t
		}
	}
	return time.Time{}
}
