package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/archive"
	"github.com/feedvault/feedvault/internal/ingestion"
	"github.com/feedvault/feedvault/pkg/fingerprint"
)

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <file>...",
		Short: "Print the content fingerprint of files",
		Long:  `Prints the name each file would be archived under: its SHA-256 digest followed by its extension.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				fp, err := fingerprint.File(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s  %s\n", fp, path)
			}
			return nil
		},
	}
}

func newShowCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show <post-id>",
		Short: "Print a post's archived metadata and content list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.load()
			if err != nil {
				return err
			}
			view, err := ingestion.Lookup(archive.NewStore(cfg.Archive.Root), args[0])
			if err != nil {
				return err
			}
			if !view.Known && view.Info == nil {
				return fmt.Errorf("post %s is not archived", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
}

func newVerifyCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-hash archived content and report blobs that do not match their name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bad := 0
			checked, err := archive.NewStore(cfg.Archive.Root).VerifyContent(cmd.Context(), func(m archive.Mismatch) {
				bad++
				if m.Actual == "" {
					fmt.Fprintf(out, "UNEXPECTED  %s\n", m.Path)
					return
				}
				fmt.Fprintf(out, "MISMATCH    %s (content hashes to %s)\n", m.Path, m.Actual)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d blobs checked, %d problems\n", checked, bad)
			if bad > 0 {
				return fmt.Errorf("%d content problems found", bad)
			}
			return nil
		},
	}
}
