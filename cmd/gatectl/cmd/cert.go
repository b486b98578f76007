package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/security"
)

var (
	certCADir     string
	certName      string
	certOutputDir string
	certValidDays int
	certHosts     string
	caOutputDir   string
	caValidDays   int
)

// certCmd represents the cert command group
var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "TLS certificate management",
	Long: `Commands for provisioning TLS material for the HTTPS listener.

The generated certificate and key feed the server.tls section of the
server configuration.`,
}

// certCACmd initializes a certificate authority
var certCACmd = &cobra.Command{
	Use:   "ca",
	Short: "Initialize a Certificate Authority",
	Long: `Initialize a Certificate Authority for signing server certificates.

Creates a CA certificate and private key in the output directory.

Example:
  gatectl cert ca --output-dir ./certs
  gatectl cert ca --output-dir /etc/buildgate/certs --valid-days 3650`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if caOutputDir == "" {
			return fmt.Errorf("--output-dir is required")
		}

		PrintVerbose("Generating CA certificate...")
		PrintVerbose("  Output directory: %s", caOutputDir)
		PrintVerbose("  Validity: %d days", caValidDays)

		if err := security.GenerateCA(caOutputDir, caValidDays); err != nil {
			return fmt.Errorf("generate CA: %w", err)
		}

		fmt.Printf("CA certificate generated successfully:\n")
		fmt.Printf("  Certificate: %s/ca.crt\n", caOutputDir)
		fmt.Printf("  Private key: %s/ca.key\n", caOutputDir)
		return nil
	},
}

// certServerCmd generates an HTTPS server certificate
var certServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Generate a server certificate",
	Long: `Generate an HTTPS server certificate signed by the CA.

The certificate will include localhost and any additional hosts
specified with --hosts in the Subject Alternative Names (SAN).

Example:
  gatectl cert server --ca-dir ./certs --name gate --out ./certs
  gatectl cert server --ca-dir ./certs --name gate --out ./certs --hosts gate.example.org,192.168.1.100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if certCADir == "" {
			return fmt.Errorf("--ca-dir is required")
		}
		if certName == "" {
			return fmt.Errorf("--name is required")
		}
		if certOutputDir == "" {
			return fmt.Errorf("--out is required")
		}

		hosts := parseHosts(certHosts)

		PrintVerbose("Generating server certificate...")
		PrintVerbose("  CA directory: %s", certCADir)
		PrintVerbose("  Name: %s", certName)
		PrintVerbose("  Output directory: %s", certOutputDir)
		PrintVerbose("  Validity: %d days", certValidDays)
		PrintVerbose("  Additional hosts: %v", hosts)

		if err := security.GenerateServerCert(certCADir, certName, certOutputDir, certValidDays, hosts); err != nil {
			return fmt.Errorf("generate server certificate: %w", err)
		}

		fmt.Printf("Server certificate generated successfully:\n")
		fmt.Printf("  Certificate: %s/%s.crt\n", certOutputDir, certName)
		fmt.Printf("  Private key: %s/%s.key\n", certOutputDir, certName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certCACmd)
	certCmd.AddCommand(certServerCmd)

	certCACmd.Flags().StringVarP(&caOutputDir, "output-dir", "o", "", "output directory for CA files (required)")
	certCACmd.Flags().IntVarP(&caValidDays, "valid-days", "d", security.DefaultCAValidDays, "certificate validity in days")
	certCACmd.MarkFlagRequired("output-dir")

	certServerCmd.Flags().StringVar(&certCADir, "ca-dir", "", "directory containing CA certificate and key (required)")
	certServerCmd.Flags().StringVar(&certName, "name", "", "certificate name (required)")
	certServerCmd.Flags().StringVar(&certOutputDir, "out", "", "output directory for certificate files (required)")
	certServerCmd.Flags().IntVar(&certValidDays, "valid-days", security.DefaultCertValidDays, "certificate validity in days")
	certServerCmd.Flags().StringVar(&certHosts, "hosts", "", "comma-separated list of additional hostnames/IPs for SAN")
	certServerCmd.MarkFlagRequired("ca-dir")
	certServerCmd.MarkFlagRequired("name")
	certServerCmd.MarkFlagRequired("out")
}

func parseHosts(hosts string) []string {
	if hosts == "" {
		return nil
	}
	parts := strings.Split(hosts, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
