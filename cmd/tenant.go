package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxfleet/internal/credential"
	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/tenant"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants in the credential store",
		Long: `Manage tenants in the credential store.

A tenant is created or updated by importing an OAuth authorized-user
credential. Every import issues a fresh session token and invalidates the
previous one.`,
	}
	cmd.AddCommand(newTenantImportCmd())
	cmd.AddCommand(newTenantShowCmd())
	cmd.AddCommand(newTenantSetKeyCmd())
	cmd.AddCommand(newTenantRevokeCmd())
	return cmd
}

// sessionOutput is printed after an import. It is the only place the
// session token is ever shown.
type sessionOutput struct {
	TenantID     string    `json:"tenant_id"`
	Email        string    `json:"email"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// tenantOutput never includes secrets.
type tenantOutput struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	OAuthExpiry     *time.Time `json:"oauth_expiry,omitempty"`
	HasSecondaryKey bool       `json:"has_secondary_key"`
	SessionExpiry   *time.Time `json:"session_expiry,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	LastActive      *time.Time `json:"last_active,omitempty"`
}

func newTenantOutput(t *tenant.Tenant) tenantOutput {
	return tenantOutput{
		ID:              t.ID,
		Email:           t.Email,
		OAuthExpiry:     optionalTime(t.OAuthExpiry),
		HasSecondaryKey: t.HasSecondaryKey,
		SessionExpiry:   optionalTime(t.SessionExpiry),
		CreatedAt:       t.CreatedAt,
		LastLogin:       optionalTime(t.LastLogin),
		LastActive:      optionalTime(t.LastActive),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readSecretFile reads path, or stdin for "-", and trims surrounding
// whitespace.
func readSecretFile(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func newTenantImportCmd() *cobra.Command {
	var (
		email          string
		credentialFile string
		keyFile        string
		keyEnv         string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create or update a tenant from an OAuth credential",
		Long: `Create or update a tenant from an OAuth authorized-user credential.

The credential file holds the JSON blob with token, refresh_token,
client_id, client_secret, token_uri, scopes and expiry. Use "-" to read it
from stdin.

An existing outreach API key is kept unless a new one is given with
--secondary-key-file or --secondary-key-env.

The new session token is printed once. Store it with the client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFile != "" && keyEnv != "" {
				return errors.New("--secondary-key-file and --secondary-key-env are mutually exclusive")
			}

			blob, err := readSecretFile(cmd, credentialFile)
			if err != nil {
				return err
			}
			cred, err := credential.Parse(blob)
			if err != nil {
				return err
			}

			var secondary *string
			switch {
			case keyFile != "":
				key, err := readSecretFile(cmd, keyFile)
				if err != nil {
					return err
				}
				secondary = &key
			case keyEnv != "":
				key, ok := os.LookupEnv(keyEnv)
				if !ok || key == "" {
					return fmt.Errorf("environment variable %s is not set", keyEnv)
				}
				secondary = &key
			}

			a, err := openAppFromFlags(cmd, &globals)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.store.CreateOrUpdateTenant(cmd.Context(), email, cred, secondary)
			if err != nil {
				return err
			}
			a.audit.Log(cmd.Context(), instrumentation.AuditEvent{
				Type:     instrumentation.AuditTenantImported,
				TenantID: sess.TenantID,
				Email:    email,
				Success:  true,
			})

			return writeJSON(cmd.OutOrStdout(), sessionOutput{
				TenantID:     sess.TenantID,
				Email:        strings.ToLower(strings.TrimSpace(email)),
				SessionToken: sess.SessionToken,
				ExpiresAt:    sess.ExpiresAt,
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address of the tenant")
	cmd.Flags().StringVar(&credentialFile, "credential-file", "", `Path to the OAuth credential JSON, or "-" for stdin`)
	cmd.Flags().StringVar(&keyFile, "secondary-key-file", "", "Path to a file holding the outreach API key")
	cmd.Flags().StringVar(&keyEnv, "secondary-key-env", "", "Name of an environment variable holding the outreach API key")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("credential-file")

	return cmd
}

func newTenantShowCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a tenant without its secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd, &globals)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.store.GetTenantByEmail(cmd.Context(), email)
			if err != nil {
				if errors.Is(err, tenant.ErrNotFound) {
					return fmt.Errorf("no tenant with email %s", email)
				}
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newTenantOutput(t))
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address of the tenant")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newTenantSetKeyCmd() *cobra.Command {
	var (
		email    string
		keyFile  string
		clearKey bool
	)

	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Set or clear a tenant's outreach API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (keyFile == "") == !clearKey {
				return errors.New("exactly one of --key-file or --clear is required")
			}

			var value *string
			if keyFile != "" {
				key, err := readSecretFile(cmd, keyFile)
				if err != nil {
					return err
				}
				value = &key
			}

			a, err := openAppFromFlags(cmd, &globals)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.store.GetTenantByEmail(cmd.Context(), email)
			if err != nil {
				return err
			}
			if err := a.store.UpdateSecondaryKey(cmd.Context(), t.ID, value); err != nil {
				return err
			}
			a.audit.Log(cmd.Context(), instrumentation.AuditEvent{
				Type:     instrumentation.AuditSecondaryKeySet,
				TenantID: t.ID,
				Email:    t.Email,
				Success:  true,
				Metadata: map[string]string{"cleared": fmt.Sprint(clearKey)},
			})

			if clearKey {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed outreach API key for %s\n", t.Email)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Stored outreach API key for %s\n", t.Email)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address of the tenant")
	cmd.Flags().StringVar(&keyFile, "key-file", "", `Path to a file holding the API key, or "-" for stdin`)
	cmd.Flags().BoolVar(&clearKey, "clear", false, "Remove the stored key")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newTenantRevokeCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Delete a tenant and its stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd, &globals)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.store.GetTenantByEmail(cmd.Context(), email)
			if err != nil {
				return err
			}
			if err := a.store.DeleteTenant(cmd.Context(), t.ID); err != nil {
				return err
			}
			a.audit.Log(cmd.Context(), instrumentation.AuditEvent{
				Type:     instrumentation.AuditTenantRevoked,
				TenantID: t.ID,
				Email:    t.Email,
				Success:  true,
			})

			fmt.Fprintf(cmd.OutOrStdout(), "Revoked tenant %s (%s)\n", t.Email, t.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address of the tenant")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
