package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/smazurov/nvrnode/internal/streams/store"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the stream definitions file",
	Long:  `Parses the stream definitions file and checks every entry, without connecting to any camera.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup(cmd)

		s := store.NewTOML(opts.StreamsConfigFile)
		if err := s.Load(); err != nil {
			return fmt.Errorf("cannot read %s: %w", opts.StreamsConfigFile, err)
		}

		defs := s.GetAllStreams()
		names := make([]string, 0, len(defs))
		for name := range defs {
			names = append(names, name)
		}
		sort.Strings(names)

		invalid := 0
		for _, name := range names {
			streamCfg := defs[name]
			if err := streamCfg.Validate(); err != nil {
				invalid++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", name, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s %s)\n", name, streamCfg.Protocol, streamCfg.URL)
		}

		if invalid > 0 {
			return fmt.Errorf("%d of %d stream definitions invalid", invalid, len(defs))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d stream definitions ok\n", len(defs))
		return nil
	},
}
