package cmd

import (
	"os"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/amirkhaki/mycroft/pkg/trace"
)

// traceCmd prints a recorded schedule, either as a context-switch
// summary or as a full structure dump.
var traceCmd = &cobra.Command{
	Use:   "trace <schedule>",
	Short: "print a recorded schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := trace.Load(args[0])
		if err != nil {
			return err
		}
		if traceDump {
			litter.Dump(s)
			return nil
		}
		trace.Summarize(os.Stdout, s)
		return nil
	},
}

var traceDump bool

func init() {
	rootCmd.AddCommand(traceCmd)

	traceCmd.Flags().BoolVar(&traceDump, "dump", false,
		"dump the full schedule structure instead of the summary")
}
