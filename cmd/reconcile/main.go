// Command reconcile is an operator tool over the books backend: it lists outstanding documents
// and pending order lines, submits voucher drafts from a file and moves GRNs on.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mmdatafocus/books_reconcile/backend"
	"github.com/mmdatafocus/books_reconcile/backend/backendtest"
	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

type globalFlags struct {
	backendURL string
	token      string
	businessId string
	offline    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "reconcile",
		Short: "Allocate payments and track goods received against the books backend",
		Long: `reconcile talks to the books backend with the caller's session.

Required environment variables (or flags):
  BACKEND_URL       - base url of the books backend
  RECONCILE_TOKEN   - session token
  RECONCILE_BUSINESS_ID - business the session acts on

With --offline the commands run against an in-memory backend seeded from a JSON file instead.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.backendURL, "backend-url", os.Getenv("BACKEND_URL"), "books backend base url")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("RECONCILE_TOKEN"), "session token")
	root.PersistentFlags().StringVar(&flags.businessId, "business-id", os.Getenv("RECONCILE_BUSINESS_ID"), "business id")
	root.PersistentFlags().StringVar(&flags.offline, "offline", "", "seed file for an in-memory backend")

	root.AddCommand(
		newOutstandingCmd(flags),
		newOrderLinesCmd(flags),
		newGRNCmd(flags),
		newVoucherCmd(flags),
	)
	return root
}

func (f *globalFlags) session() (models.Session, error) {
	if f.offline != "" {
		return models.Session{BusinessId: "offline", Token: "offline"}, nil
	}
	if f.token == "" || f.businessId == "" {
		return models.Session{}, fmt.Errorf("--token and --business-id are required")
	}
	return models.Session{BusinessId: f.businessId, Token: f.token}, nil
}

func (f *globalFlags) backend() (backend.Backend, error) {
	if f.offline != "" {
		file, err := os.Open(f.offline)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return backendtest.Load(file)
	}
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	money.SetCurrency(settings.Currency)
	logger := config.GetLogger()
	return backend.NewClient(backend.Options{
		BaseURL:     f.backendURL,
		Timeout:     settings.BackendTimeout,
		Logger:      logger,
		ReadBreaker: backend.NewReadBreaker("reconcile-cli", logger),
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
