// ppissuer is the privacy pass token issuer.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	privacypass "github.com/kagisearch/privacypass-lib"
	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/noncestore"
	"github.com/kagisearch/privacypass-lib/noncestore/boltnoncestore"
)

// envelope is the result format of the one shot commands.
type envelope struct {
	RetVal string `json:"retval"`
	Error  string `json:"error"`
}

func writeEnvelope(w io.Writer, retval string, err error) error {
	env := envelope{RetVal: retval}
	if err != nil {
		env.RetVal = ""
		env.Error = err.Error()
	}
	enc := json.NewEncoder(w)
	if encErr := enc.Encode(env); encErr != nil {
		return encErr
	}
	return err
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ppissuer",
		Short: "Privacy pass batched token issuer",
		Long: `ppissuer issues and redeems privacy pass batched private tokens
(token type 0xF91A, VOPRF over ristretto255).

The one shot commands print a JSON object {"retval": ..., "error": ...}.
Every key, challenge, request, response and token is URL-safe base64.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newKeygenCommand(),
		newChallengeCommand(),
		newHeaderCommand(),
		newIssueCommand(),
		newValidateCommand(),
		newServeCommand(),
	)
	return cmd
}

func newKeygenCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an issuer keypair",
		Example: `  ppissuer keygen
  ppissuer keygen --out /var/lib/ppissuer/keypair.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := privacypass.NewServer(keystore.NewMemoryKeyStore(), noncestore.NewMemoryNonceStore())
			kp, err := srv.GenerateKeypair()
			if err != nil {
				return writeEnvelope(cmd.OutOrStdout(), "", err)
			}
			kpJSON, err := json.Marshal(kp)
			if err != nil {
				return writeEnvelope(cmd.OutOrStdout(), "", err)
			}
			if out != "" {
				if err := os.WriteFile(out, kpJSON, 0600); err != nil {
					return writeEnvelope(cmd.OutOrStdout(), "", err)
				}
			}
			return writeEnvelope(cmd.OutOrStdout(), string(kpJSON), nil)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "also write the keypair JSON to this file")
	return cmd
}

func newChallengeCommand() *cobra.Command {
	var issuerName, originInfo string

	cmd := &cobra.Command{
		Use:     "challenge",
		Short:   "Build a token challenge",
		Example: `  ppissuer challenge --issuer issuer.example --origin origin.example`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := privacypass.NewServer(keystore.NewMemoryKeyStore(), noncestore.NewMemoryNonceStore())
			var origins []string
			if originInfo != "" {
				origins = []string{originInfo}
			}
			challenge, err := srv.BuildChallenge(issuerName, origins)
			return writeEnvelope(cmd.OutOrStdout(), challenge, err)
		},
	}
	cmd.Flags().StringVar(&issuerName, "issuer", "", "issuer name")
	cmd.Flags().StringVar(&originInfo, "origin", "", "origin info")
	cmd.MarkFlagRequired("issuer")
	return cmd
}

func newHeaderCommand() *cobra.Command {
	var challenge, tokenKey string
	var maxAge uint32

	cmd := &cobra.Command{
		Use:     "header",
		Short:   "Build a WWW-Authenticate header value",
		Example: `  ppissuer header --challenge <base64> --token-key <base64> --max-age 3600`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := privacypass.NewServer(keystore.NewMemoryKeyStore(), noncestore.NewMemoryNonceStore())
			header, err := srv.BuildAuthHeader(challenge, tokenKey, time.Duration(maxAge)*time.Second)
			return writeEnvelope(cmd.OutOrStdout(), header, err)
		},
	}
	cmd.Flags().StringVar(&challenge, "challenge", "", "encoded token challenge")
	cmd.Flags().StringVar(&tokenKey, "token-key", "", "encoded issuer public key")
	cmd.Flags().Uint32Var(&maxAge, "max-age", 0, "challenge max-age in seconds, 0 to omit")
	cmd.MarkFlagRequired("challenge")
	cmd.MarkFlagRequired("token-key")
	return cmd
}

func newIssueCommand() *cobra.Command {
	var secretKey, request string
	var maxElements uint16
	var strict bool

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Evaluate a token request",
		Long: `Evaluate a token request. Requests holding more than --max blinded
elements are truncated, or refused with --strict.`,
		Example: `  ppissuer issue --sk <base64> --request <base64> --max 10`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := privacypass.NewServer(keystore.NewMemoryKeyStore(), noncestore.NewMemoryNonceStore())
			issue := srv.IssueResponse
			if strict {
				issue = srv.IssueResponseStrict
			}
			resp, err := issue(cmd.Context(), secretKey, request, int(maxElements))
			return writeEnvelope(cmd.OutOrStdout(), resp, err)
		},
	}
	cmd.Flags().StringVar(&secretKey, "sk", "", "encoded issuer secret key")
	cmd.Flags().StringVar(&request, "request", "", "encoded token request")
	cmd.Flags().Uint16Var(&maxElements, "max", 10, "maximum blinded elements evaluated")
	cmd.Flags().BoolVar(&strict, "strict", false, "refuse oversized requests instead of truncating")
	cmd.MarkFlagRequired("sk")
	cmd.MarkFlagRequired("request")
	return cmd
}

func newValidateCommand() *cobra.Command {
	var secretKey, token, challenge, nonceDB string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a token",
		Long: `Validate a token, printing "1" when valid and "0" when it fails
verification. Spent nonces are only remembered across invocations when
--nonce-db names a database file.`,
		Example: `  ppissuer validate --sk <base64> --token <base64> --challenge <base64> --nonce-db nonces.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var nonces noncestore.NonceStore = noncestore.NewMemoryNonceStore()
			if nonceDB != "" {
				db, err := boltnoncestore.New(nonceDB)
				if err != nil {
					return writeEnvelope(cmd.OutOrStdout(), "", err)
				}
				defer db.Close()
				nonces = db
			}

			srv := privacypass.NewServer(keystore.NewMemoryKeyStore(), nonces)
			valid, err := srv.ValidateToken(cmd.Context(), secretKey, token, challenge)
			retval := "0"
			if valid {
				retval = "1"
			}
			return writeEnvelope(cmd.OutOrStdout(), retval, err)
		},
	}
	cmd.Flags().StringVar(&secretKey, "sk", "", "encoded issuer secret key")
	cmd.Flags().StringVar(&token, "token", "", "encoded token")
	cmd.Flags().StringVar(&challenge, "challenge", "", "encoded token challenge")
	cmd.Flags().StringVar(&nonceDB, "nonce-db", "", "bolt database of spent nonces")
	cmd.MarkFlagRequired("sk")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("challenge")
	return cmd
}

func main() {
	rootCmd := newRootCommand()

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}

