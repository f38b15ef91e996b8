package cmd

import (
	"context"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/pki"
)

var (
	catalogFile   string
	catalogRevoke []string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect or publish a provider's catalog of issued certificates",
}

var catalogShowCmd = &cobra.Command{
	Use:   "show SESSION",
	Short: "Print the parsed catalog as JSON",
	Args:  cobra.ExactArgs(1),
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
		catalog, err := req.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		if catalog == nil {
			catalog = []certificates.CertificateRecord{}
		}
		return printJSON(cmd.OutOrStdout(), catalog)
	},
}

var catalogPublishCmd = &cobra.Command{
	Use:   "publish SESSION",
	Short: "Publish a raw catalog as the provider and reconcile",
	Long: `Store the catalog read from --file or stdin verbatim as the provider's side
of the session, then reconcile and print the resulting events as JSON lines.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd.InOrStdin(), catalogFile)
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
		if err := req.PublishCatalog(cmd.Context(), raw); err != nil {
			return err
		}
		events, err := req.OnChannelChanged(cmd.Context())
		if err != nil {
			return err
		}
		return printEvents(cmd.OutOrStdout(), req.SessionID(), events)
	},
}

var catalogIssueCmd = &cobra.Command{
	Use:   "issue SESSION",
	Short: "Act as a development provider and sign outstanding CSRs",
	Long: `Sign every outstanding CSR that the catalog does not yet cover with the
issuer CA, publish the updated catalog and reconcile. Without issuer.ca_cert
and issuer.ca_key an ephemeral CA is generated. CSRs named by --revoke are
marked revoked instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, err := loadIssuer()
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

		var revoke []string
		for _, path := range catalogRevoke {
			b, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			revoke = append(revoke, certificates.Normalize(string(b)))
		}

		catalog, err := issueCatalog(cmd.Context(), req, ca, cfg.IssuerValidity(), revoke)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(catalog)
		if err != nil {
			return err
		}
		if err := req.PublishCatalog(cmd.Context(), string(raw)); err != nil {
			return err
		}
		events, err := req.OnChannelChanged(cmd.Context())
		if err != nil {
			return err
		}
		return printEvents(cmd.OutOrStdout(), req.SessionID(), events)
	},
}

// loadIssuer returns the configured CA or a fresh ephemeral one.
func loadIssuer() (*pki.CA, error) {
	if cfg.Issuer.CACert == "" {
		log.Warn("no issuer CA configured, generating an ephemeral one")
		return pki.NewCA(nil, pkix.Name{CommonName: "certreq development CA"}, 2*cfg.IssuerValidity())
	}
	certPEM, err := os.ReadFile(cfg.Issuer.CACert)
	if err != nil {
		return nil, fmt.Errorf("reading issuer certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.Issuer.CAKey)
	if err != nil {
		return nil, fmt.Errorf("reading issuer key: %w", err)
	}
	return pki.LoadCA(string(certPEM), string(keyPEM), nil)
}

// issueCatalog extends the current catalog with a certificate for every
// outstanding CSR it lacks, and marks the CSRs in revoke as revoked.
func issueCatalog(ctx context.Context, req *certificates.Requirer, ca *pki.CA, validity time.Duration, revoke []string) ([]certificates.CertificateRecord, error) {
	catalog, err := req.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	csrs, err := req.CSRs(ctx)
	if err != nil {
		return nil, err
	}

	for i := range catalog {
		if slices.Contains(revoke, certificates.Normalize(catalog[i].CSR)) {
			catalog[i].Revoked = true
		}
	}
	for _, r := range csrs {
		covered := slices.ContainsFunc(catalog, func(c certificates.CertificateRecord) bool {
			return certificates.Normalize(c.CSR) == r.CSR
		})
		if covered {
			continue
		}
		cert, err := ca.SignCSR(r.CSR, validity)
		if err != nil {
			log.Warn("skipping CSR the issuer cannot sign", "csr", csrLabel(r.CSR), "error", err)
			continue
		}
		catalog = append(catalog, certificates.CertificateRecord{
			CSR:         r.CSR,
			Certificate: cert,
			CA:          ca.CertificatePEM(),
			Chain:       []string{cert, ca.CertificatePEM()},
			Revoked:     slices.Contains(revoke, r.CSR),
		})
	}
	if catalog == nil {
		catalog = []certificates.CertificateRecord{}
	}
	return catalog, nil
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogShowCmd, catalogPublishCmd, catalogIssueCmd)
	catalogPublishCmd.Flags().StringVarP(&catalogFile, "file", "f", "-", "Catalog JSON file, or - for stdin")
	catalogIssueCmd.Flags().StringSliceVar(&catalogRevoke, "revoke", nil, "PEM CSR files whose certificates are marked revoked")
}
