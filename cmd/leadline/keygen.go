package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/importauto/leadline/internal/security"
)

func newKeygenCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the X25519 key pair for encrypted forms",
		Long: `Generates a new X25519 key pair.

The private key is PKCS#8 PEM for FLOW_PRIVATE_KEY or FLOW_PRIVATE_KEY_FILE.
The public key is base64 for upload to the messaging platform.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd.OutOrStdout(), outPath)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the private key to this file (mode 0600) instead of stdout")
	return cmd
}

func runKeygen(out io.Writer, outPath string) error {
	privatePEM, publicB64, err := security.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(privatePEM), 0o600); err != nil {
			return fmt.Errorf("keygen: write private key: %w", err)
		}
		fmt.Fprintf(out, "Private key written to %s\n", outPath)
	} else {
		fmt.Fprint(out, privatePEM)
	}
	fmt.Fprintf(out, "Public key (base64): %s\n", publicB64)
	return nil
}
