// keys.go - Key file handling.
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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/hpqc/util"
	"github.com/spf13/cobra"

	"github.com/katzenpost/mixpor/common"
	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx/path"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/core/utils"
)

const (
	privateKeySuffix = " PRIVATE KEY"
	publicKeySuffix  = " PUBLIC KEY"
	paymentKeyType   = "SECP256K1 PAYMENT KEY"
)

func groupFromBlockType(blockType, suffix string) (group.Group, error) {
	if !strings.HasSuffix(blockType, suffix) {
		return nil, fmt.Errorf("unexpected PEM block type '%v'", blockType)
	}
	name := strings.TrimSuffix(blockType, suffix)
	g := group.ByName(name)
	if g == nil {
		return nil, fmt.Errorf("unknown group '%v'", name)
	}
	return g, nil
}

func writeKeypair(prefix string, k *group.Keypair) error {
	priv, pub := prefix+".private.pem", prefix+".public.pem"
	ok, err := utils.BothNotExists(priv, pub)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%v or %v already exists", priv, pub)
	}

	name := strings.ToUpper(k.Group.Name())
	if err := common.WritePEMFile(priv, name+privateKeySuffix, k.Secret.Bytes(), 0600); err != nil {
		return err
	}
	return common.WritePEMFile(pub, name+publicKeySuffix, k.Public.Bytes(), 0644)
}

func loadPrivateKey(f string) (*group.Keypair, error) {
	blk, err := common.ReadPEMFile(f)
	if err != nil {
		return nil, err
	}
	defer util.ExplicitBzero(blk.Bytes)

	g, err := groupFromBlockType(blk.Type, privateKeySuffix)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", f, err)
	}
	s, err := g.DecodeScalar(blk.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", f, err)
	}
	return group.KeypairFromScalar(g, s)
}

func loadPublicKey(f string) (group.Element, error) {
	blk, err := common.ReadPEMFile(f)
	if err != nil {
		return nil, err
	}
	g, err := groupFromBlockType(blk.Type, publicKeySuffix)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", f, err)
	}
	return g.DecodeElement(blk.Bytes)
}

func loadPaymentKey(f string) (*secp256k1.PrivateKey, error) {
	blk, err := common.ReadPEMFile(f)
	if err != nil {
		return nil, err
	}
	defer util.ExplicitBzero(blk.Bytes)

	if blk.Type != paymentKeyType {
		return nil, fmt.Errorf("%v: unexpected PEM block type '%v'", f, blk.Type)
	}
	if len(blk.Bytes) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("%v: invalid payment key length %d", f, len(blk.Bytes))
	}
	return secp256k1.PrivKeyFromBytes(blk.Bytes), nil
}

func newGenKeyCommand() *cobra.Command {
	var (
		groupName string
		prefix    string
		payment   bool
	)

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a relay or payment key",
		Long: `Generate a relay keypair in one of the supported groups, writing
<prefix>.private.pem and <prefix>.public.pem, or with --payment a secp256k1
payment key written to <prefix>.payment.pem.`,
		Example: `  sphinx genkey --group x25519 --prefix node1
  sphinx genkey --payment --prefix client`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if payment {
				k, err := secp256k1.GeneratePrivateKey()
				if err != nil {
					return err
				}
				f := prefix + ".payment.pem"
				if ok, err := utils.Exists(f); err != nil || ok {
					return fmt.Errorf("%v already exists", f)
				}
				b := k.Serialize()
				defer util.ExplicitBzero(b)
				if err = common.WritePEMFile(f, paymentKeyType, b, 0600); err != nil {
					return err
				}
				fmt.Fprintf(out, "Payment address: %v\n", ticket.AddressFromPublicKey(k.PubKey()))
				return nil
			}

			g := group.ByName(groupName)
			if g == nil {
				return fmt.Errorf("invalid argument: unknown group '%v'", groupName)
			}
			k, err := group.NewKeypair(g, rand.Reader)
			if err != nil {
				return err
			}
			defer k.Reset()
			if err = writeKeypair(prefix, k); err != nil {
				return err
			}
			id := path.NodeID(k.Public)
			fmt.Fprintf(out, "Node ID: %s\n", hex.EncodeToString(id[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&groupName, "group", "x25519", "group of the relay key: x25519, ed25519, ristretto255 or secp256k1")
	cmd.Flags().StringVar(&prefix, "prefix", "", "path prefix of the written key files (required)")
	cmd.Flags().BoolVar(&payment, "payment", false, "generate a secp256k1 payment key instead of a relay key")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}

func newGenNodeIDCommand() *cobra.Command {
	var keyFile string

	cmd := &cobra.Command{
		Use:   "genNodeID",
		Short: "Generate node ID from public key file",
		Long: `Generate the node ID of a relay from its public key PEM file.
This is useful for creating hop specifications for the newpacket command.`,
		Example: `  sphinx genNodeID --key node1.public.pem`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := loadPublicKey(keyFile)
			if err != nil {
				return err
			}
			id := path.NodeID(pub)
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(id[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&keyFile, "key", "", "path to public key PEM file (required)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
