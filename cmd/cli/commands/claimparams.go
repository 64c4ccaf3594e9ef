package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cityclaims/cityclaims/internal/claims"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// NewClaimParamsCmd prints the contract call that claims a reward
func NewClaimParamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim-params <city> <version> <kind> <id>",
		Short: "Show the contract call that claims a reward",
		Long: `Print the contract, function and serialized arguments of the claim
transaction for a block height (mining) or reward cycle (stacking).

Nothing is signed or broadcast; hand the output to a wallet.

  cityclaims claim-params mia legacyV2 mining 58932
  cityclaims claim-params nyc daoV2 stacking 75 --output json`,
		Args: cobra.ExactArgs(4),
		RunE: runClaimParams,
	}
}

func runClaimParams(cmd *cobra.Command, args []string) error {
	city, err := types.ParseCity(args[0])
	if err != nil {
		return err
	}
	version, err := types.ParseVersion(args[1])
	if err != nil {
		return err
	}
	kind := types.ClaimKind(args[2])
	if !kind.IsValid() {
		return fmt.Errorf("unknown kind %q: want mining or stacking", args[2])
	}
	id, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[3], err)
	}

	params, err := claims.BuildClaimTransactionParams(registry.Mainnet(), city, version, kind, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON() {
		return printJSON(out, params)
	}

	fields := [][2]string{
		{"Contract", params.Contract},
		{"Function", params.FunctionName},
	}
	for i, a := range params.FunctionArgs {
		fields = append(fields, [2]string{fmt.Sprintf("Arg %d", i), a.String()})
	}
	fmt.Fprintln(out, StatusBox("Claim transaction", fields))
	return nil
}
