// The governance cache keeps on-chain governance state (the governer list, submitted proposals and the assents each
// proposal collected) in three cache tables stacked over the backing store. A root cache reads the store; child
// caches stack speculative block or transaction state over a parent and get flushed into it or dropped.

package governance

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/nobletooth/govcache/pkg/codec"
	"github.com/nobletooth/govcache/pkg/kvcache"
	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/nobletooth/govcache/pkg/utils"
)

var stableCoinGenesisHeight = flag.Uint("stable_coin_genesis_height", 0,
	"Height of the stable coin genesis block; its account at index 2 governs until a governer list is set.")

// genesisGovernerIndex is the index of the bootstrap governer's account in the stable coin genesis block.
const genesisGovernerIndex = 2

var ErrAlreadyAssented = errors.New("governer already assented to the proposal")

// Cache is one layer of governance state. Not safe for concurrent use.
type Cache struct {
	genesisHeight uint32
	governers     *kvcache.SimpleCache[[]RegID]
	proposals     *kvcache.CompositeCache[TxID, Proposal]
	seconds       *kvcache.CompositeCache[TxID, []RegID]
}

// NewRootCache returns a governance cache reading through to `store`.
func NewRootCache(store storage.Store) *Cache {
	if *stableCoinGenesisHeight > math.MaxUint32 {
		utils.RaiseInvariant("governance", "invalid_genesis_height", "Stable coin genesis height overflows uint32.",
			"height", *stableCoinGenesisHeight)
	}
	proposals := kvcache.NewCompositeCache[TxID, Proposal](
		storage.GovernProposal, codec.Uint256Key{}, ProposalBean{}, store)
	seconds := kvcache.NewCompositeCache[TxID, []RegID](
		storage.GovernSecond, codec.Uint256Key{}, codec.RLP[[]RegID]{}, store)
	return &Cache{
		genesisHeight: uint32(*stableCoinGenesisHeight),
		governers:     kvcache.NewSimpleCache[[]RegID](storage.SysGovern, codec.RLP[[]RegID]{}, store),
		proposals:     proposals,
		seconds:       seconds,
	}
}

// NewChildCache returns a governance cache layered over `parent`.
func NewChildCache(parent *Cache) *Cache {
	return &Cache{
		genesisHeight: parent.genesisHeight,
		governers:     kvcache.NewSimpleCacheView(parent.governers),
		proposals:     kvcache.NewCompositeCacheView(parent.proposals),
		seconds:       kvcache.NewCompositeCacheView(parent.seconds),
	}
}

// GenesisGoverner returns the account that governs while no governer list has been set.
func (c *Cache) GenesisGoverner() RegID {
	return NewRegID(c.genesisHeight, genesisGovernerIndex)
}

// CheckIsGoverner reports whether `candidate` is a governer. Until a governer list is set, only the genesis
// governer is one.
func (c *Cache) CheckIsGoverner(candidate RegID) bool {
	if !c.governers.HaveData() {
		return candidate == c.GenesisGoverner()
	}
	governers, found := c.governers.GetData()
	return found && slices.Contains(governers, candidate)
}

// GetNeedGovernerCount returns the number of assents a proposal needs: two thirds of the governers plus two,
// capped at the number of governers. It's 1 while no governer list is set.
func (c *Cache) GetNeedGovernerCount() int {
	governers, found := c.governers.GetData()
	if !found {
		return 1
	}
	return min(len(governers), len(governers)/3*2+2)
}

// SetProposal stores `proposal` under the id of the transaction that submitted it.
func (c *Cache) SetProposal(txid TxID, proposal Proposal) error {
	return c.proposals.SetData(txid, proposal)
}

// GetProposal returns the proposal submitted by `txid`. A proposal that fails to decode reads as absent.
func (c *Cache) GetProposal(txid TxID) (Proposal, bool) {
	return c.proposals.GetData(txid)
}

// GetAssentionCount returns the number of governers that assented to the proposal, 0 if none did.
func (c *Cache) GetAssentionCount(proposalID TxID) int {
	assents, _ := c.seconds.GetData(proposalID)
	return len(assents)
}

// GetAssentions returns the governers that assented to the proposal, in assent order.
func (c *Cache) GetAssentions(proposalID TxID) []RegID {
	assents, _ := c.seconds.GetData(proposalID)
	return assents
}

// SetAssention records the assent of `governer` to the proposal. Assenting twice returns ErrAlreadyAssented and
// changes nothing.
func (c *Cache) SetAssention(proposalID TxID, governer RegID) error {
	assents, _ := c.seconds.GetData(proposalID)
	if slices.Contains(assents, governer) {
		slog.Error("Governer had already assented to the proposal.",
			"governer", governer, "proposal_id", proposalID.Hex())
		return fmt.Errorf("%w: governer %s, proposal %s", ErrAlreadyAssented, governer, proposalID.Hex())
	}
	return c.seconds.SetData(proposalID, append(slices.Clone(assents), governer))
}

// SetGoverners replaces the governer list.
func (c *Cache) SetGoverners(governers []RegID) error {
	return c.governers.SetData(governers)
}

// GetGoverners returns the governer list and whether one was set.
func (c *Cache) GetGoverners() ([]RegID, bool) {
	return c.governers.GetData()
}

// Flush flushes the governers, proposals and seconds tables, in that order, into the parent layer or the store.
// A failing table doesn't stop the others from flushing; all failures are returned joined.
func (c *Cache) Flush() error {
	var errs error
	if err := c.governers.Flush(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to flush governers: %w", err))
	}
	if err := c.proposals.Flush(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to flush proposals: %w", err))
	}
	if err := c.seconds.Flush(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to flush seconds: %w", err))
	}
	if errs != nil {
		slog.Error("Failed to flush governance cache.", "error", errs)
	}
	return errs
}

// GetCacheSize returns the approximate number of bytes held by this layer.
func (c *Cache) GetCacheSize() int {
	return c.governers.GetCacheSize() + c.proposals.GetCacheSize() + c.seconds.GetCacheSize()
}

// SetBaseViewPtr stacks this layer over `parent`; pending writes of this layer are kept.
func (c *Cache) SetBaseViewPtr(parent *Cache) {
	c.governers.SetBase(parent.governers)
	c.proposals.SetBase(parent.proposals)
	c.seconds.SetBase(parent.seconds)
}

// SetOpLog records the prior state of every following write into `log`; nil stops recording.
func (c *Cache) SetOpLog(log *kvcache.OpLog) {
	c.governers.SetOpLog(log)
	c.proposals.SetOpLog(log)
	c.seconds.SetOpLog(log)
}

// RegisterUndoFunc registers this layer's tables as the targets of rolled back ops.
func (c *Cache) RegisterUndoFunc(registry *kvcache.UndoRegistry) {
	c.governers.RegisterUndoFunc(registry)
	c.proposals.RegisterUndoFunc(registry)
	c.seconds.RegisterUndoFunc(registry)
}

// Prefixes returns the tables this cache writes to.
func (c *Cache) Prefixes() []storage.Prefix {
	return []storage.Prefix{c.governers.Prefix(), c.proposals.Prefix(), c.seconds.Prefix()}
}
