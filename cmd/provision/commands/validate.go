package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// errUnavailable is returned when a checked device ID cannot be claimed.
var errUnavailable = errors.New("device ID is not available")

// Validate returns the command that checks a device ID.
func Validate(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <device-id>",
		Short: "Check that a device ID is well-formed and unclaimed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			v := claim.NewValidator(a.Claims,
				claim.WithCache(a.ClaimCache),
				claim.WithMetrics(a.Metrics),
			)
			v.SetLogger(a.Logger)

			res := v.ValidateNow(cmd.Context(), args[0])
			printResult(cmd.OutOrStdout(), res)
			if !res.OK() {
				return errUnavailable
			}
			return nil
		},
	}
}

func printResult(out io.Writer, res claim.Result) {
	if res.OK() {
		suffix := ""
		if res.Cached {
			suffix = dimStyle.Render(" (cached)")
		}
		fmt.Fprintf(out, "%s %s is available%s\n", okStyle.Render("✓"), res.DeviceID, suffix)
		return
	}
	fmt.Fprintf(out, "%s %s\n", errorStyle.Render("✗"), userMessage(res.Err))
	if action := provisioning.Describe(provisioning.CodeFor(res.Err)).SuggestedAction; action != "" {
		fmt.Fprintln(out, dimStyle.Render("  "+action))
	}
}

// userMessage is the text shown for err.
func userMessage(err error) string {
	var ue provisioning.UserError
	if errors.As(err, &ue) {
		return ue.UserMessage()
	}
	return provisioning.Describe(provisioning.CodeFor(err)).UserMessage
}
