package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/credentials"
)

// credsStore opens the credentials file without bootstrapping the bot.
func (o *rootOptions) credsStore() (*credentials.Store, credentials.Record, error) {
	key, err := credentials.Key(o.cfg.CredentialsKey)
	if err != nil {
		return nil, credentials.Record{}, fmt.Errorf("credentials key: %w", err)
	}
	store, err := credentials.NewStore(o.cfg.CredentialsPath, key, o.log)
	if err != nil {
		return nil, credentials.Record{}, err
	}
	rec := store.Load(credentials.Defaults{
		UserID:     o.cfg.BackendUserID,
		Exchange:   o.cfg.Exchange,
		APIKey:     o.cfg.ExchangeAPIKey,
		APISecret:  o.cfg.ExchangeAPISecret,
		BackendURL: o.cfg.BackendURL,
	})
	return store, rec, nil
}

func newCredsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage exchange keys and the backend identity",
	}
	cmd.AddCommand(newCredsSetCmd(o), newCredsSyncCmd(o), newCredsShowCmd(o))
	return cmd
}

func newCredsSetCmd(o *rootOptions) *cobra.Command {
	var (
		exchangeName string
		apiKey       string
		apiSecret    string
		userID       string
		backendURL   string
		ack          string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store exchange keys (sealed on disk)",
		Long: fmt.Sprintf(`Set stores exchange API keys. Use keys with trading permission only, never
withdrawal. The acknowledgment %q is required, either with --ack or
typed when prompted.`, credentials.Acknowledgment),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, rec, err := o.credsStore()
			if err != nil {
				return err
			}
			if ack == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Type %q to continue: ", credentials.Acknowledgment)
				if ack, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if exchangeName != "" {
				rec.Exchange = exchangeName
			}
			if userID != "" {
				rec.UserID = userID
			}
			if backendURL != "" {
				rec.BackendURL = strings.TrimRight(backendURL, "/")
			}
			rec.APIKey, rec.APISecret = apiKey, apiSecret
			saved, err := store.Configure(ack, rec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), saved.Masked())
		},
	}
	cmd.Flags().StringVar(&exchangeName, "exchange", "", "exchange name (binanceus, binance)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	cmd.Flags().StringVar(&apiSecret, "api-secret", "", "API secret")
	cmd.Flags().StringVar(&userID, "user-id", "", "backend user id (default: machine id)")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "backend proxy URL")
	cmd.Flags().StringVar(&ack, "ack", "", "risk acknowledgment")
	_ = cmd.MarkFlagRequired("api-key")
	_ = cmd.MarkFlagRequired("api-secret")
	return cmd
}

func newCredsSyncCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send stored keys to the backend for validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, rec, err := o.credsStore()
			if err != nil {
				return err
			}
			client := backend.NewClient(rec.BackendURL, o.cfg.BackendTimeout, o.log)
			rec, res, err := store.Sync(cmd.Context(), client, rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated=%t status=%d %s\n", rec.Validated, res.StatusCode, res.Message())
			if !rec.Validated {
				return fmt.Errorf("backend did not validate the credentials: %s", withBackendHint(res.Message()))
			}
			return nil
		},
	}
}

func newCredsShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored credentials with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, rec, err := o.credsStore()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec.Masked())
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
