// mixkey.go - Relay keys and replay filter.
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

// Package mixkey provides persistent relay keys and the packet replay
// filter.
package mixkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/yawning/bloom"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/core/worker"
)

const (
	// TagLength is the replay tag length in bytes.
	TagLength = sphinx.ReplayTagLength

	metadataBucket = "metadata"
	replayBucket   = "replay"

	groupKey   = "group"
	privateKey = "privateKey"
	paymentKey = "paymentKey"

	bloomFalsePositiveRate = 0.001

	writeQueueLength = 1024
	maxWriteBatch    = 256
)

var (
	dbOptions = &bolt.Options{
		NoFreelistSync: true,
	}

	errGroupMismatch = errors.New("mixkey: stored key is for a different group")
)

type pendingTag struct {
	generation uint64
	tag        [TagLength]byte
}

// MixKey is a relay's persistent group keypair, payment key and replay
// filter.
//
// The replay filter is split in two generations of 2^bloomSize bits each.
// Once the current generation is full it becomes the previous one, and the
// tags of the generation before it are forgotten.  Each generation is
// persisted in its own bucket, so the stored tags are bounded the same way.
type MixKey struct {
	sync.Mutex

	worker worker.Worker
	log    *logging.Logger
	db     *bolt.DB

	keypair    *group.Keypair
	paymentKey *secp256k1.PrivateKey

	bloomSize  int
	generation uint64
	current    *bloom.Filter
	previous   *bloom.Filter
	writeCh    chan pendingTag

	refCount int32
}

// Keypair returns the group keypair Sphinx packets are peeled with.
func (k *MixKey) Keypair() *group.Keypair {
	return k.keypair
}

// PublicKey returns the public component of the group keypair.
func (k *MixKey) PublicKey() group.Element {
	return k.keypair.Public
}

// PublicBytes returns the public key in raw bytes.
func (k *MixKey) PublicBytes() []byte {
	return k.keypair.Public.Bytes()
}

// PaymentKey returns the secp256k1 key tickets for the next hop are signed
// with.
func (k *MixKey) PaymentKey() *secp256k1.PrivateKey {
	return k.paymentKey
}

// PaymentAddress returns the address inbound tickets are paid to.
func (k *MixKey) PaymentAddress() ticket.Address {
	return ticket.AddressFromPublicKey(k.paymentKey.PubKey())
}

// IsReplay marks a given replay tag as seen, and returns true iff the tag has
// been seen previously (Test and Set).
func (k *MixKey) IsReplay(rawTag []byte) bool {
	// Treat all pathologically malformed tags as replays.
	if len(rawTag) != TagLength {
		return true
	}
	var tag [TagLength]byte
	copy(tag[:], rawTag)

	k.Lock()
	if k.current.Entries() >= k.current.MaxEntries() {
		if err := k.rotate(); err != nil {
			k.Unlock()
			k.log.Errorf("Failed to rotate the replay filter: %v", err)
			return true
		}
	}
	seen := k.previous != nil && k.previous.Test(tag[:])
	if !seen {
		seen = k.current.TestAndSet(tag[:])
	}
	generation := k.generation
	k.Unlock()
	if seen {
		return true
	}

	// Persist the tag so the filter survives restarts.
	select {
	case k.writeCh <- pendingTag{generation: generation, tag: tag}:
	case <-k.worker.HaltCh():
	}
	return false
}

func (k *MixKey) rotate() error {
	f, err := bloom.New(rand.Reader, k.bloomSize, bloomFalsePositiveRate)
	if err != nil {
		return err
	}
	k.previous, k.current = k.current, f
	k.generation++
	k.log.Noticef("Replay filter rotated to generation %d.", k.generation)
	return nil
}

func (k *MixKey) writeWorker() {
	batch := make([]pendingTag, 0, maxWriteBatch)
	for {
		halted := false
		select {
		case <-k.worker.HaltCh():
			halted = true
		case t := <-k.writeCh:
			batch = append(batch, t)
		}

	drain:
		for halted || len(batch) < maxWriteBatch {
			select {
			case t := <-k.writeCh:
				batch = append(batch, t)
			default:
				break drain
			}
		}

		if len(batch) > 0 {
			if err := k.db.Update(func(tx *bolt.Tx) error {
				return writeTags(tx, batch)
			}); err != nil {
				k.log.Errorf("Failed to persist %d replay tags: %v", len(batch), err)
			}
			batch = batch[:0]
		}
		if halted {
			return
		}
	}
}

func writeTags(tx *bolt.Tx, batch []pendingTag) error {
	root := tx.Bucket([]byte(replayBucket))
	var latest uint64
	for _, t := range batch {
		bkt, err := root.CreateBucketIfNotExists(generationKey(t.generation))
		if err != nil {
			return err
		}
		if err = bkt.Put(t.tag[:], []byte{}); err != nil {
			return err
		}
		latest = max(latest, t.generation)
	}
	return pruneGenerations(root, latest)
}

// pruneGenerations deletes every stored generation older than the one
// preceding latest.
func pruneGenerations(root *bolt.Bucket, latest uint64) error {
	if latest < 2 {
		return nil
	}
	var stale [][]byte
	c := root.Cursor()
	for key, v := c.First(); key != nil; key, v = c.Next() {
		if v != nil || len(key) != 8 || binary.BigEndian.Uint64(key) >= latest-1 {
			break
		}
		stale = append(stale, append([]byte{}, key...))
	}
	for _, key := range stale {
		if err := root.DeleteBucket(key); err != nil {
			return err
		}
	}
	return nil
}

func generationKey(generation uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], generation)
	return b[:]
}

// Deref reduces the refcount by one, and closes the key if the refcount hits
// 0.
func (k *MixKey) Deref() {
	i := atomic.AddInt32(&k.refCount, -1)
	if i == 0 {
		k.forceClose()
	} else if i < 0 {
		panic("BUG: mixkey: Refcount is negative")
	}
}

// Ref increases the refcount by one.
func (k *MixKey) Ref() {
	i := atomic.AddInt32(&k.refCount, 1)
	if i <= 1 {
		panic("BUG: mixkey: Refcount was 0 or negative")
	}
}

func (k *MixKey) forceClose() {
	k.worker.Halt()
	if k.db != nil {
		k.db.Sync()
		k.db.Close()
		k.db = nil
	}
	if k.keypair != nil {
		k.keypair.Reset()
	}
	if k.paymentKey != nil {
		k.paymentKey.Zero()
	}
}

func (k *MixKey) load(tx *bolt.Tx, g group.Group) (bool, error) {
	bkt := tx.Bucket([]byte(metadataBucket))
	rawGroup := bkt.Get([]byte(groupKey))
	if rawGroup == nil {
		return false, nil
	}
	if string(rawGroup) != g.Name() {
		return false, fmt.Errorf("%w: '%s'", errGroupMismatch, rawGroup)
	}

	s, err := g.DecodeScalar(bkt.Get([]byte(privateKey)))
	if err != nil {
		return false, fmt.Errorf("mixkey: failed to decode private key: %w", err)
	}
	if k.keypair, err = group.KeypairFromScalar(g, s); err != nil {
		return false, err
	}

	rawPayment := bkt.Get([]byte(paymentKey))
	if len(rawPayment) != secp256k1.PrivKeyBytesLen {
		return false, errors.New("mixkey: invalid payment key")
	}
	k.paymentKey = secp256k1.PrivKeyFromBytes(rawPayment)

	return true, k.loadReplayFilter(tx)
}

func (k *MixKey) loadReplayFilter(tx *bolt.Tx) error {
	root := tx.Bucket([]byte(replayBucket))
	c := root.Cursor()
	key, v := c.Last()
	if key == nil {
		return nil
	}
	if v != nil || len(key) != 8 {
		return fmt.Errorf("mixkey: malformed replay generation %x", key)
	}
	k.generation = binary.BigEndian.Uint64(key)
	if err := pruneGenerations(root, k.generation); err != nil {
		return err
	}

	load := func(f *bloom.Filter, generation uint64) error {
		bkt := root.Bucket(generationKey(generation))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(tag, _ []byte) error {
			f.TestAndSet(tag)
			return nil
		})
	}
	if k.generation > 0 && root.Bucket(generationKey(k.generation-1)) != nil {
		var err error
		if k.previous, err = bloom.New(rand.Reader, k.bloomSize, bloomFalsePositiveRate); err != nil {
			return err
		}
		if err = load(k.previous, k.generation-1); err != nil {
			return err
		}
	}
	return load(k.current, k.generation)
}

func (k *MixKey) generate(tx *bolt.Tx, g group.Group) error {
	var err error
	if k.keypair, err = group.NewKeypair(g, rand.Reader); err != nil {
		return err
	}
	if k.paymentKey, err = secp256k1.GeneratePrivateKeyFromRand(rand.Reader); err != nil {
		return err
	}

	bkt := tx.Bucket([]byte(metadataBucket))
	if err = bkt.Put([]byte(groupKey), []byte(g.Name())); err != nil {
		return err
	}
	if err = bkt.Put([]byte(privateKey), k.keypair.Secret.Bytes()); err != nil {
		return err
	}
	return bkt.Put([]byte(paymentKey), k.paymentKey.Serialize())
}

// New creates (or loads) a relay key stored in dbFile, for the group of the
// provided geometry.  Each replay filter generation holds 2^bloomSize bits.
func New(dbFile string, g *geo.Geometry, bloomSize int, log *logging.Logger) (*MixKey, error) {
	var err error

	grp := g.Group()
	if grp == nil {
		return nil, fmt.Errorf("mixkey: unknown group '%v'", g.GroupName)
	}

	// Initialize the structure and create or open the database.
	k := &MixKey{
		log:       log,
		bloomSize: bloomSize,
		writeCh:   make(chan pendingTag, writeQueueLength),
		refCount:  1,
	}
	k.current, err = bloom.New(rand.Reader, bloomSize, bloomFalsePositiveRate)
	if err != nil {
		return nil, err
	}
	k.db, err = bolt.Open(dbFile, 0600, dbOptions)
	if err != nil {
		return nil, err
	}

	if err = k.db.Update(func(tx *bolt.Tx) error {
		for _, v := range []string{metadataBucket, replayBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(v)); err != nil {
				return err
			}
		}
		loaded, err := k.load(tx, grp)
		if err != nil || loaded {
			return err
		}
		return k.generate(tx, grp)
	}); err != nil {
		k.forceClose()
		return nil, err
	}

	k.worker.Go(k.writeWorker)
	return k, nil
}
