// main.go - Sphinx packet tool.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
package main

import (
	"github.com/spf13/cobra"

	"github.com/katzenpost/mixpor/common"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sphinx",
		Short: "Sphinx packet manipulation tool",
		Long: `A CLI tool for creating and manipulating Sphinx packets paid for with
Proof-of-Relay tickets, and for composing ad-hoc relay chains.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(
		newCreateGeometryCommand(),
		newGenKeyCommand(),
		newGenNodeIDCommand(),
		newNewPacketCommand(),
		newUnwrapCommand(),
		newValidateTicketCommand(),
		newSimulateCommand(),
	)
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}
