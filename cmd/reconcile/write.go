package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/mmdatafocus/books_reconcile/allocation"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/submission"
	"github.com/spf13/cobra"
)

func newGRNCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grn",
		Short: "Convert or cancel a goods received note",
	}
	for _, action := range []string{"convert", "cancel"} {
		cmd.AddCommand(&cobra.Command{
			Use:  action + " <grn-id>",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				grnId, err := strconv.Atoi(args[0])
				if err != nil || grnId <= 0 {
					return fmt.Errorf("invalid grn id %q", args[0])
				}
				session, err := flags.session()
				if err != nil {
					return err
				}
				b, err := flags.backend()
				if err != nil {
					return err
				}
				flow := submission.NewGRNFlow(submission.Deps{Backend: b})
				transition := flow.Convert
				if action == "cancel" {
					transition = flow.Cancel
				}
				result, err := transition(cmd.Context(), session, grnId)
				if errors.Is(err, models.ErrInvalidTransition) {
					fmt.Fprintf(cmd.ErrOrStderr(), "nothing to do: %v\n", err)
					return nil
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			},
		})
	}
	return cmd
}

// voucherFile is the draft read by `voucher submit`.
type voucherFile struct {
	models.VoucherHeader
	Allocations []struct {
		DocumentId int    `json:"document_id"`
		Amount     string `json:"amount"`
	} `json:"allocations"`
}

func newVoucherCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Payment and receipt vouchers",
	}
	var file string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Allocate a voucher across outstanding documents and post it",
		Long: `Reads a draft of the form

  {"type": "payment", "party_id": 4, "account_id": 10, "date": "2026-05-01T00:00:00Z",
   "allocations": [{"document_id": 1, "amount": "700.00"}]}

Each amount is clamped to the document's outstanding balance before posting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var draft voucherFile
			if err := json.Unmarshal(raw, &draft); err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			session, err := flags.session()
			if err != nil {
				return err
			}
			b, err := flags.backend()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			flow := submission.NewVoucherFlow(submission.Deps{Backend: b})
			state, err := flow.Open(ctx, session, draft.VoucherHeader, nil)
			if err != nil {
				return err
			}
			var events []allocation.Event
			for _, a := range draft.Allocations {
				doc, ok := findDocument(state.Documents, a.DocumentId)
				if !ok {
					return fmt.Errorf("document %d has no outstanding balance", a.DocumentId)
				}
				events = append(events, allocation.SelectDocument{Document: doc})
				if a.Amount != "" {
					events = append(events,
						allocation.EditAmount{DocumentId: a.DocumentId, Value: a.Amount},
						allocation.CommitAmount{DocumentId: a.DocumentId})
				}
			}
			if state, err = flow.Apply(ctx, draft.Type, state.Key, events...); err != nil {
				return err
			}
			result, err := flow.Submit(ctx, session, draft.Type, state.Key)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				models.VoucherResult
				Total string `json:"total"`
			}{result, state.Ledger.Total().String()})
		},
	}
	submit.Flags().StringVar(&file, "file", "", "voucher draft json")
	submit.MarkFlagRequired("file")
	cmd.AddCommand(submit)
	return cmd
}

func findDocument(docs []models.OutstandingDocument, id int) (models.OutstandingDocument, bool) {
	for _, d := range docs {
		if d.ID == id {
			return d, true
		}
	}
	return models.OutstandingDocument{}, false
}
