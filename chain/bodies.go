package chain

import (
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	OpJettonTransfer = 0x0f8a7ea5
	OpNftTransfer    = 0x5fcc3d14
	OpComment        = 0
)

type jettonTransferBody struct {
	_              tlb.Magic        `tlb:"#0f8a7ea5"`
	QueryID        uint64           `tlb:"## 64"`
	Amount         tlb.Coins        `tlb:"."`
	Destination    *address.Address `tlb:"addr"`
	Response       *address.Address `tlb:"addr"`
	CustomPayload  *cell.Cell       `tlb:"maybe ^"`
	ForwardAmount  tlb.Coins        `tlb:"."`
	ForwardPayload *cell.Cell       `tlb:"either . ^"`
}

type nftTransferBody struct {
	_                   tlb.Magic        `tlb:"#5fcc3d14"`
	QueryID             uint64           `tlb:"## 64"`
	NewOwner            *address.Address `tlb:"addr"`
	ResponseDestination *address.Address `tlb:"addr"`
	CustomPayload       *cell.Cell       `tlb:"maybe ^"`
	ForwardAmount       tlb.Coins        `tlb:"."`
	ForwardPayload      *cell.Cell       `tlb:"either . ^"`
}

func emptyIfNil(c *cell.Cell) *cell.Cell {
	if c == nil {
		return cell.BeginCell().EndCell()
	}
	return c
}

// JettonTransferBody asks the sender's jetton wallet to move amount to destination.
func JettonTransferBody(queryID uint64, amount *big.Int, destination, response *address.Address, forwardAmount *big.Int, forwardPayload *cell.Cell) (*cell.Cell, error) {
	if forwardAmount == nil {
		forwardAmount = big.NewInt(0)
	}
	return tlb.ToCell(&jettonTransferBody{
		QueryID:        queryID,
		Amount:         tlb.FromNanoTON(amount),
		Destination:    destination,
		Response:       response,
		ForwardAmount:  tlb.FromNanoTON(forwardAmount),
		ForwardPayload: emptyIfNil(forwardPayload),
	})
}

func NftTransferBody(queryID uint64, newOwner, response *address.Address, forwardAmount *big.Int, forwardPayload *cell.Cell) (*cell.Cell, error) {
	if forwardAmount == nil {
		forwardAmount = big.NewInt(0)
	}
	return tlb.ToCell(&nftTransferBody{
		QueryID:             queryID,
		NewOwner:            newOwner,
		ResponseDestination: response,
		ForwardAmount:       tlb.FromNanoTON(forwardAmount),
		ForwardPayload:      emptyIfNil(forwardPayload),
	})
}

func CommentBody(text string) (*cell.Cell, error) {
	b := cell.BeginCell().MustStoreUInt(OpComment, 32)
	if err := b.StoreStringSnake(text); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}
