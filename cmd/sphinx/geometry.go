// geometry.go - Geometry file handling.
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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
)

const flagGeometryDescription = "path to TOML geometry file (default: built in geometry)"

// CreateGeometry holds the createGeometry parameters.
type CreateGeometry struct {
	NrHops                   int
	Group                    string
	PRP                      string
	UserForwardPayloadLength int
	File                     string
}

func generateSphinxGeometry(c *CreateGeometry) (*geo.Geometry, error) {
	g := group.ByName(c.Group)
	if g == nil {
		return nil, fmt.Errorf("invalid argument: unknown group '%v'", c.Group)
	}
	geometry := geo.GeometryFromUserForwardPayloadLength(g, c.PRP, c.UserForwardPayloadLength, c.NrHops)
	if err := geometry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid argument: %v", err)
	}
	return geometry, nil
}

// loadGeometry returns the geometry in f, or the default one if f is empty.
func loadGeometry(f string) (*geo.Geometry, error) {
	if f == "" {
		return geo.DefaultGeometry(), nil
	}
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load geometry: %v", err)
	}
	return geo.FromTOML(b)
}

func loadSphinx(f string) (*sphinx.Sphinx, error) {
	g, err := loadGeometry(f)
	if err != nil {
		return nil, err
	}
	return sphinx.FromGeometry(g)
}

func newCreateGeometryCommand() *cobra.Command {
	var c CreateGeometry

	cmd := &cobra.Command{
		Use:   "createGeometry",
		Short: "Generate Sphinx geometry configuration",
		Long:  "Generate a Sphinx geometry configuration and write it to a TOML file or stdout.",
		Example: `  sphinx createGeometry
  sphinx createGeometry --group ristretto255 --prp aez --nrHops 5 --file geometry.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			geometry, err := generateSphinxGeometry(&c)
			if err != nil {
				return err
			}
			out := geometry.Display()
			if c.File == "" {
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			}
			return os.WriteFile(c.File, []byte(out), 0644)
		},
	}

	def := geo.DefaultGeometry()
	cmd.Flags().IntVar(&c.NrHops, "nrHops", def.NrHops, "maximum number of hops per route, the recipient included")
	cmd.Flags().StringVar(&c.Group, "group", def.GroupName, "group used for key derivation")
	cmd.Flags().StringVar(&c.PRP, "prp", def.PRPName, "wide-block payload cipher: lioness or aez")
	cmd.Flags().IntVar(&c.UserForwardPayloadLength, "UserForwardPayloadLength", def.UserForwardPayloadLength, "usable payload length")
	cmd.Flags().StringVar(&c.File, "file", "", "file path to write TOML output to, empty indicates stdout")
	return cmd
}
