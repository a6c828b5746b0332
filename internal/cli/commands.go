package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dawgdevv/bitespeed/internal/config"
	"github.com/dawgdevv/bitespeed/internal/models"
)

func newMigrateCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the contacts table and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database applies the schema.
			return withApp(cmd, load, func(ctx context.Context, a *app, out io.Writer) error {
				_, err := fmt.Fprintf(out, "schema applied (%s)\n", a.db.Dialect)
				return err
			})
		},
	}
}

func newContactsCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "Print every contact row as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app, out io.Writer) error {
				contacts, err := a.service.ListContacts(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, contacts)
			})
		},
	}
}

func newIdentifyCommand(load func() (*config.Config, error)) *cobra.Command {
	var email, phone string
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Reconcile one email/phone pair and print the consolidated contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req models.IdentifyRequest
			if cmd.Flags().Changed("email") {
				req.Email = models.StringValue(email)
			}
			if cmd.Flags().Changed("phone") {
				req.PhoneNumber = models.StringValue(phone)
			}
			return withApp(cmd, load, func(ctx context.Context, a *app, out io.Writer) error {
				resp, err := a.service.Identify(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(out, resp)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
