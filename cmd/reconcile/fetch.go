package main

import (
	"fmt"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/spf13/cobra"
)

func newOutstandingCmd(flags *globalFlags) *cobra.Command {
	var query models.OutstandingQuery
	var partyType, documentType string
	cmd := &cobra.Command{
		Use:     "outstanding",
		Short:   "List a party's documents with an outstanding balance",
		Example: `  reconcile outstanding --party-id 4 --party-type supplier --document-type bill`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query.PartyType = models.PartyType(partyType)
			query.DocumentType = models.DocumentType(documentType)
			if query.PartyId <= 0 {
				return fmt.Errorf("--party-id is required")
			}
			session, err := flags.session()
			if err != nil {
				return err
			}
			b, err := flags.backend()
			if err != nil {
				return err
			}
			docs, err := b.FetchOutstanding(cmd.Context(), session, query)
			if err != nil {
				return err
			}
			return printJSON(cmd, docs)
		},
	}
	cmd.Flags().IntVar(&query.PartyId, "party-id", 0, "supplier or customer id")
	cmd.Flags().StringVar(&partyType, "party-type", string(models.PartyTypeSupplier), "supplier or customer")
	cmd.Flags().StringVar(&documentType, "document-type", string(models.DocumentTypeBill), "bill or sales_invoice")
	return cmd
}

func newOrderLinesCmd(flags *globalFlags) *cobra.Command {
	var orderId int
	cmd := &cobra.Command{
		Use:   "order-lines",
		Short: "List a purchase order's lines with ordered, received and pending quantities",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orderId <= 0 {
				return fmt.Errorf("--order-id is required")
			}
			session, err := flags.session()
			if err != nil {
				return err
			}
			b, err := flags.backend()
			if err != nil {
				return err
			}
			lines, err := b.FetchPendingOrderLines(cmd.Context(), session, orderId)
			if err != nil {
				return err
			}
			return printJSON(cmd, lines)
		},
	}
	cmd.Flags().IntVar(&orderId, "order-id", 0, "purchase order id")
	return cmd
}
