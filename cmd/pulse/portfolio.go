package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

var (
	portfolioClient  string
	portfolioProduct string
	portfolioLane    string
)

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Manage the entries a client is monitored on",
}

var portfolioAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or reactivate a portfolio entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEntry(cmd, core.Store, portfolioClient, portfolioProduct, portfolioLane, true)
	},
}

var portfolioRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Deactivate a portfolio entry",
	Long:  `Deactivates the entry. Its snapshots are kept and it is skipped by later runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEntry(cmd, core.Store, portfolioClient, portfolioProduct, portfolioLane, false)
	},
}

var portfolioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a client's portfolio entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listEntries(cmd, core.Store, portfolioClient)
	},
}

func init() {
	for _, c := range []*cobra.Command{portfolioAddCmd, portfolioRemoveCmd} {
		c.Flags().StringVar(&portfolioClient, "client", "", "Client ID")
		c.Flags().StringVar(&portfolioProduct, "product", "", "Product ID")
		c.Flags().StringVar(&portfolioLane, "lane", "", "Trade lane, e.g. CN-US")
		_ = c.MarkFlagRequired("client")
		_ = c.MarkFlagRequired("product")
		_ = c.MarkFlagRequired("lane")
	}
	portfolioListCmd.Flags().StringVar(&portfolioClient, "client", "", "Client ID")
	_ = portfolioListCmd.MarkFlagRequired("client")

	portfolioCmd.AddCommand(portfolioAddCmd, portfolioRemoveCmd, portfolioListCmd)
	rootCmd.AddCommand(portfolioCmd)
}

// portfolioStore reads and writes portfolio entries.
type portfolioStore interface {
	GetPortfolio(ctx context.Context, clientID string, activeOnly bool) ([]model.PortfolioEntry, error)
	UpsertPortfolioEntry(ctx context.Context, clientID string, e model.PortfolioEntry) error
}

func setEntry(cmd *cobra.Command, s portfolioStore, clientID, productID, laneID string, active bool) error {
	entry := model.PortfolioEntry{ProductID: productID, LaneID: laneID, Active: active}
	if err := s.UpsertPortfolioEntry(cmd.Context(), clientID, entry); err != nil {
		return err
	}
	state := "active"
	if !active {
		state = "inactive"
	}
	cmd.Printf("%s: %s/%s %s\n", clientID, productID, laneID, state)
	return nil
}

func listEntries(cmd *cobra.Command, s portfolioStore, clientID string) error {
	entries, err := s.GetPortfolio(cmd.Context(), clientID, false)
	if err != nil {
		return fmt.Errorf("list portfolio: %w", err)
	}
	if len(entries) == 0 {
		cmd.Printf("%s has no portfolio entries.\n", clientID)
		return nil
	}
	for _, e := range entries {
		state := "active"
		if !e.Active {
			state = "inactive"
		}
		cmd.Printf("%s/%s %s\n", e.ProductID, e.LaneID, state)
	}
	return nil
}
