package cmd

import (
	"crypto/x509/pkix"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certreq/pki"
)

var (
	csrFile    string
	csrOldFile string
	csrNewFile string
	csrJSON    bool

	newCommonName string
	newDNSNames   []string
	newOut        string
	newSession    string
)

var csrCmd = &cobra.Command{
	Use:   "csr",
	Short: "Manage certificate signing requests",
}

var csrCreateCmd = &cobra.Command{
	Use:   "create SESSION",
	Short: "Submit a CSR read from --file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		csr, err := readInput(cmd.InOrStdin(), csrFile)
		if err != nil {
			return err
		}
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		req, err := newRequirer(p, args[0])
		if err != nil {
			return err
		}
		return req.RequestCertificateCreation(cmd.Context(), csr)
	},
}

var csrRevokeCmd = &cobra.Command{
	Use:   "revoke SESSION",
	Short: "Withdraw a CSR read from --file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		csr, err := readInput(cmd.InOrStdin(), csrFile)
		if err != nil {
			return err
		}
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		req, err := newRequirer(p, args[0])
		if err != nil {
			return err
		}
		return req.RequestCertificateRevocation(cmd.Context(), csr)
	},
}

var csrRenewCmd = &cobra.Command{
	Use:   "renew SESSION",
	Short: "Replace the CSR in --old with the one in --new",
	Long: `Withdraw the CSR in --old, if given, on a best-effort basis and submit the
CSR in --new, which may be - for stdin.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var oldCSR string
		if csrOldFile != "" {
			b, err := os.ReadFile(csrOldFile)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			oldCSR = string(b)
		}
		newCSR, err := readInput(cmd.InOrStdin(), csrNewFile)
		if err != nil {
			return err
		}
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		req, err := newRequirer(p, args[0])
		if err != nil {
			return err
		}
		return req.RequestCertificateRenewal(cmd.Context(), oldCSR, newCSR)
	},
}

var csrListCmd = &cobra.Command{
	Use:     "list SESSION",
	Aliases: []string{"ls"},
	Short:   "List outstanding CSRs with their derived state",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		req, err := newRequirer(p, args[0])
		if err != nil {
			return err
		}
		statuses, err := req.Statuses(cmd.Context())
		if err != nil {
			return err
		}
		if csrJSON {
			return printJSON(cmd.OutOrStdout(), statuses)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CSR\tSUBJECT\tSTATE\tEXPIRY")
		for _, s := range statuses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", csrLabel(s.CSR), csrSubject(s.CSR), s.State, formatExpiry(s.Expiry))
		}
		return tw.Flush()
	},
}

var csrNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a key pair and CSR",
	Long: `Generate an ECDSA key pair and a CSR for it, writing <out>.key (mode 0600)
and <out>.csr. With --session the CSR is also submitted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if newCommonName == "" {
			return fmt.Errorf("--cn is required")
		}
		out := newOut
		if out == "" {
			out = newCommonName
		}
		dnsNames := newDNSNames
		if len(dnsNames) == 0 {
			dnsNames = []string{newCommonName}
		}

		bundle, err := pki.NewCSR(nil, pkix.Name{CommonName: newCommonName}, dnsNames)
		if err != nil {
			return err
		}
		defer bundle.Destroy()

		if err := os.WriteFile(out+".key", bundle.Key.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing key: %w", err)
		}
		if err := os.WriteFile(out+".csr", []byte(bundle.CSR), 0o644); err != nil {
			return fmt.Errorf("writing CSR: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s.key and %s.csr\n", out, out)

		if newSession == "" {
			return nil
		}
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		req, err := newRequirer(p, newSession)
		if err != nil {
			return err
		}
		return req.RequestCertificateCreation(cmd.Context(), bundle.CSR)
	},
}

func init() {
	rootCmd.AddCommand(csrCmd)
	csrCmd.AddCommand(csrCreateCmd, csrRevokeCmd, csrRenewCmd, csrListCmd, csrNewCmd)

	for _, c := range []*cobra.Command{csrCreateCmd, csrRevokeCmd} {
		c.Flags().StringVarP(&csrFile, "file", "f", "-", "PEM CSR file, or - for stdin")
	}
	csrRenewCmd.Flags().StringVar(&csrOldFile, "old", "", "PEM file of the CSR being replaced")
	csrRenewCmd.Flags().StringVar(&csrNewFile, "new", "", "PEM file of the replacement CSR, or - for stdin")
	csrRenewCmd.MarkFlagRequired("new")
	csrListCmd.Flags().BoolVar(&csrJSON, "json", false, "Print JSON instead of a table")

	csrNewCmd.Flags().StringVar(&newCommonName, "cn", "", "Subject common name")
	csrNewCmd.Flags().StringSliceVar(&newDNSNames, "dns", nil, "DNS subject alternative names (default: the common name)")
	csrNewCmd.Flags().StringVarP(&newOut, "out", "o", "", "Output path prefix (default: the common name)")
	csrNewCmd.Flags().StringVar(&newSession, "session", "", "Submit the CSR on this session")
}
