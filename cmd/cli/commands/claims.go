package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cityclaims/cityclaims/internal/reconcile"
	"github.com/cityclaims/cityclaims/pkg/types"
)

var (
	claimsAddress string
	claimsHistory string
)

// NewClaimsCmd lists claim entries
func NewClaimsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims [city]",
		Short: "List mining and stacking claim entries",
		Long: `Reconcile the address's transaction history into claim entries.

Each block height or reward cycle the address committed to is listed with
its status: claimed when a claim transaction was seen, the cached
verification result when one exists, unverified otherwise.

The history is a JSON export of the Stacks API address transactions
endpoint. Without a city every city is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runClaims,
	}

	addSourceFlags(cmd, &claimsAddress, &claimsHistory)
	return cmd
}

func addSourceFlags(cmd *cobra.Command, address, history *string) {
	cmd.Flags().StringVar(address, "address", "", "Stacks address (default: address from config)")
	cmd.Flags().StringVar(history, "history", "", "Transaction history JSON file")
	_ = cmd.MarkFlagRequired("history")
}

func citiesFromArgs(args []string) ([]types.City, error) {
	if len(args) == 0 {
		return types.Cities, nil
	}
	city, err := types.ParseCity(args[0])
	if err != nil {
		return nil, err
	}
	return []types.City{city}, nil
}

func runClaims(cmd *cobra.Command, args []string) error {
	cities, err := citiesFromArgs(args)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg, claimsAddress, claimsHistory)
	if err != nil {
		return err
	}
	defer a.Close()

	results := make(map[types.City]reconcile.Result, len(cities))
	for _, city := range cities {
		res, err := a.service.ListClaimEntries(cmd.Context(), city)
		if err != nil {
			return err
		}
		results[city] = res
	}

	out := cmd.OutOrStdout()
	if wantJSON() {
		return printJSON(out, results)
	}

	fmt.Fprintln(out, StatusBox(Logo()+" claims", [][2]string{
		{"Address", a.service.Address()},
		{"History", claimsHistory},
	}))
	for _, city := range cities {
		printClaimTables(out, city, results[city])
	}
	return nil
}

func printClaimTables(w io.Writer, city types.City, res reconcile.Result) {
	for _, section := range []struct {
		title   string
		idLabel string
		entries []types.ClaimEntry
	}{
		{city.Symbol() + " mining", "Block", res.Mining},
		{city.Symbol() + " stacking", "Cycle", res.Stacking},
	} {
		fmt.Fprintln(w, SectionHeader(section.title))
		if len(section.entries) == 0 {
			fmt.Fprintln(w, Hint("no entries"))
			continue
		}
		fmt.Fprint(w, RenderTable(
			[]string{section.idLabel, "Version", "Status", "Tx", "Claim Tx"},
			claimRows(section.entries),
		))
		fmt.Fprintln(w)
		fmt.Fprintln(w, Hint(summarize(section.entries)))
	}
}

func claimRows(entries []types.ClaimEntry) [][]string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		claimTx := "-"
		if e.ClaimTxID != "" {
			claimTx = FormatTxID(e.ClaimTxID)
		}
		status := StatusBadge(string(e.Status))
		if e.Retryable {
			status += " (check failed)"
		}
		rows[i] = []string{
			FormatCount(e.ID),
			e.Version.String(),
			status,
			FormatTxID(e.TxID),
			claimTx,
		}
	}
	return rows
}

func summarize(entries []types.ClaimEntry) string {
	counts := make(map[types.Status]int)
	retry := 0
	for _, e := range entries {
		counts[e.Status]++
		if e.Retryable {
			retry++
		}
	}
	order := []types.Status{
		types.StatusClaimable, types.StatusClaimed, types.StatusUnverified,
		types.StatusNotWon, types.StatusNoReward, types.StatusError,
	}
	s := fmt.Sprintf("%d entries", len(entries))
	for _, st := range order {
		if n := counts[st]; n > 0 {
			s += fmt.Sprintf(", %d %s", n, st)
		}
	}
	if retry > 0 {
		s += fmt.Sprintf(", %d awaiting retry", retry)
	}
	return s
}
