package cmd

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installed certificates and their expiry",
	Long: `Reads every certificate in the certificate store and reports its
subject, issuer and remaining lifetime. Certificates within the renewal
window (30 days) are flagged.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// renewalWindow matches the acme.sh default 60-day renewal cycle with
// headroom.
const renewalWindow = 30 * 24 * time.Hour

func runStatus(cmd *cobra.Command, args []string) error {
	out := output()
	dir := certDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Warning("certificate store %s does not exist (run 'certpilot run' first)", dir)
			return nil
		}
		return fmt.Errorf("failed to read certificate store %s: %w", dir, err)
	}

	var rows [][]string
	expiring := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cert, err := readCertificate(path)
		if err != nil {
			out.Warning("%s: %v", path, err)
			continue
		}

		remaining := time.Until(cert.NotAfter)
		state := "ok"
		switch {
		case remaining <= 0:
			state = "EXPIRED"
			expiring++
		case remaining < renewalWindow:
			state = "expiring"
			expiring++
		}

		rows = append(rows, []string{
			subjectName(cert),
			cert.Issuer.CommonName,
			cert.NotAfter.Format("2006-01-02"),
			fmt.Sprintf("%dd", int(remaining.Hours()/24)),
			state,
		})
	}

	if len(rows) == 0 {
		out.Warning("no certificates found in %s", dir)
		return nil
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	out.Table([]string{"Certificate", "Issuer", "Expires", "Remaining", "State"}, rows)

	if expiring > 0 {
		out.Warning("%d certificate(s) expired or expiring within 30 days", expiring)
	}
	return nil
}

// readCertificate parses the leaf certificate from a PEM bundle. The
// store keeps full chains, so only the first block matters here.
func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate found")
	}
	return x509.ParseCertificate(block.Bytes)
}

func subjectName(cert *x509.Certificate) string {
	if cert.Subject.CommonName != "" {
		return cert.Subject.CommonName
	}
	if len(cert.DNSNames) > 0 {
		return cert.DNSNames[0]
	}
	return "(unknown)"
}
