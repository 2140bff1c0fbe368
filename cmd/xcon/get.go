// Copyright (C) 2025 Xyngular, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xyngular/xcon"
)

var (
	getService string
	getEnv     string
	getDefault string
	getNoCache bool
	getSource  bool
)

var getCmd = &cobra.Command{
	Use:   "get NAME...",
	Short: "Resolve one or more configuration values",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []xcon.Option
		if getService != "" {
			opts = append(opts, xcon.WithService(getService))
		}
		if getEnv != "" {
			opts = append(opts, xcon.WithEnvironment(getEnv))
		}
		cfg := xcon.New(opts...)

		var lookupOpts []xcon.LookupOption
		if getNoCache {
			lookupOpts = append(lookupOpts, xcon.WithoutCache())
		}
		if cmd.Flags().Changed("default") {
			lookupOpts = append(lookupOpts, xcon.WithDefault(getDefault))
		}

		ctx := cmd.Context()
		for _, name := range args {
			item, err := cfg.Lookup(ctx, name, lookupOpts...)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", name, err)
			}
			switch {
			case item == nil:
				return fmt.Errorf("%s: not found", name)
			case getSource:
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\t(%s %s)\n",
					item.OriginalName, item.Value, item.Source, item.Directory.Path())
			case len(args) > 1:
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", item.OriginalName, item.Value)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), item.Value)
			}
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringVar(&getService, "service", "", "service name (overrides SERVICE_NAME)")
	getCmd.Flags().StringVar(&getEnv, "env", "", "environment name (overrides APP_ENV)")
	getCmd.Flags().StringVar(&getDefault, "default", "", "value to return when the name resolves nowhere")
	getCmd.Flags().BoolVar(&getNoCache, "no-cache", false, "bypass the distributed cache")
	getCmd.Flags().BoolVar(&getSource, "source", false, "show where each value came from")
}
