package governance

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/nobletooth/govcache/pkg/codec"
)

// ProposalKind is the discriminant written before a proposal's payload.
type ProposalKind uint8

const (
	ParamGovernKind ProposalKind = iota + 1
	GovernerUpdateKind
	DexSwitchKind
	MinerFeeKind
	CoinTransferKind
	BPCountUpdateKind
)

var ErrUnknownProposalKind = errors.New("unknown proposal kind")

func (k ProposalKind) String() string {
	switch k {
	case ParamGovernKind:
		return "param_govern"
	case GovernerUpdateKind:
		return "governer_update"
	case DexSwitchKind:
		return "dex_switch"
	case MinerFeeKind:
		return "miner_fee"
	case CoinTransferKind:
		return "coin_transfer"
	case BPCountUpdateKind:
		return "bp_count_update"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Proposal is a governance proposal. The set of variants is closed; see the *Proposal types below.
type Proposal interface {
	Kind() ProposalKind
	Header() ProposalHeader
	sealed()
}

// ProposalHeader holds the fields every proposal carries.
type ProposalHeader struct {
	ExpireBlockHeight uint64 // The proposal can't be approved past this height.
	ApprovalMinCount  uint8  // Assents needed, snapshotted from the governer count when submitted.
}

func (h ProposalHeader) Header() ProposalHeader { return h }
func (ProposalHeader) sealed()                  {}

// Operate enables or disables a governed entity.
type Operate uint8

const (
	OperateEnable Operate = iota + 1
	OperateDisable
)

// SysParam is one system parameter assignment.
type SysParam struct {
	Name  string
	Value uint64
}

// ParamGovernProposal changes system parameters.
type ParamGovernProposal struct {
	ProposalHeader
	Params []SysParam
}

// GovernerUpdateProposal adds or removes a governer.
type GovernerUpdateProposal struct {
	ProposalHeader
	Governer RegID
	Operate  Operate
}

// DexSwitchProposal enables or disables a dex operator.
type DexSwitchProposal struct {
	ProposalHeader
	DexID   uint32
	Operate Operate
}

// MinerFeeProposal sets the minimum fee of a transaction type in one fee coin.
type MinerFeeProposal struct {
	ProposalHeader
	TxType    uint8
	FeeSymbol string
	FeeAmount uint64
}

// CoinTransferProposal moves coins between accounts.
type CoinTransferProposal struct {
	ProposalHeader
	Symbol string
	Amount uint64
	From   RegID
	To     RegID
}

// BPCountUpdateProposal changes the number of block producers from a given height on.
type BPCountUpdateProposal struct {
	ProposalHeader
	BPCount         uint8
	EffectiveHeight uint64
}

func (*ParamGovernProposal) Kind() ProposalKind    { return ParamGovernKind }
func (*GovernerUpdateProposal) Kind() ProposalKind { return GovernerUpdateKind }
func (*DexSwitchProposal) Kind() ProposalKind      { return DexSwitchKind }
func (*MinerFeeProposal) Kind() ProposalKind       { return MinerFeeKind }
func (*CoinTransferProposal) Kind() ProposalKind   { return CoinTransferKind }
func (*BPCountUpdateProposal) Kind() ProposalKind  { return BPCountUpdateKind }

// newProposal returns an empty proposal of `kind` to decode into.
func newProposal(kind ProposalKind) (Proposal, error) {
	switch kind {
	case ParamGovernKind:
		return &ParamGovernProposal{}, nil
	case GovernerUpdateKind:
		return &GovernerUpdateProposal{}, nil
	case DexSwitchKind:
		return &DexSwitchProposal{}, nil
	case MinerFeeKind:
		return &MinerFeeProposal{}, nil
	case CoinTransferKind:
		return &CoinTransferProposal{}, nil
	case BPCountUpdateKind:
		return &BPCountUpdateProposal{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownProposalKind, uint8(kind))
	}
}

// ProposalBean stores proposals as their kind byte followed by the RLP encoding of the variant.
type ProposalBean struct{}

var _ codec.Codec[Proposal] = ProposalBean{}

func (ProposalBean) Encode(p Proposal) ([]byte, error) {
	if p == nil {
		return nil, errors.New("cannot encode a nil proposal")
	}
	if _, err := newProposal(p.Kind()); err != nil {
		return nil, err
	}
	payload, err := rlp.EncodeToBytes(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s proposal: %w", p.Kind(), err)
	}
	return append([]byte{byte(p.Kind())}, payload...), nil
}

func (ProposalBean) Decode(data []byte) (Proposal, error) {
	if len(data) == 0 {
		return nil, errors.New("empty proposal data")
	}
	p, err := newProposal(ProposalKind(data[0]))
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(data[1:], p); err != nil {
		return nil, fmt.Errorf("failed to decode %s proposal: %w", p.Kind(), err)
	}
	return p, nil
}
