package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/ton-dispatch-go/models"
)

const (
	OpNewOrder = 0xf718510f
	OpApprove  = 0xa762230f

	actionSendMessage  = 0xf1381e5b
	actionUpdateParams = 0x1d0cfbd3

	ActionTonTransfer    = "ton_transfer"
	ActionJettonTransfer = "jetton_transfer"
	ActionNftTransfer    = "nft_transfer"
	ActionUpdateParams   = "update_multisig_params"
	ActionUnknown        = "unknown"
)

var ErrTooManyActions = errors.New("order holds at most 255 actions")

type orderSendMessageAction struct {
	ActionType tlb.Magic   `tlb:"#f1381e5b"`
	Mode       uint8       `tlb:"## 8"`
	Body       tlb.Message `tlb:"^"`
}

// Multisig encodes messages for multisig v2 contracts and their orders.
type Multisig struct{}

// OrderCell packs actions into the order dictionary: index -> ^send_message.
func (Multisig) OrderCell(actions []models.OutMessage) (*cell.Cell, error) {
	if len(actions) == 0 {
		return nil, errors.New("order without actions")
	}
	if len(actions) > 255 {
		return nil, ErrTooManyActions
	}
	dict := cell.NewDict(8)
	for i, action := range actions {
		msg, err := InternalMessage(action)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		send := cell.BeginCell().
			MustStoreUInt(actionSendMessage, 32).
			MustStoreUInt(uint64(action.Mode), 8).
			MustStoreRef(msg).
			EndCell()
		if err := dict.SetIntKey(big.NewInt(int64(i)), cell.BeginCell().MustStoreRef(send).EndCell()); err != nil {
			return nil, err
		}
	}
	return dict.AsCell(), nil
}

// NewOrderBody proposes an order. A signer proposing approves it in the same message.
func (m Multisig) NewOrderBody(queryID uint64, orderSeqno uint64, isSigner bool, index int, expiresAt int64, actions []models.OutMessage) ([]byte, error) {
	order, err := m.OrderCell(actions)
	if err != nil {
		return nil, err
	}
	body := cell.BeginCell().
		MustStoreUInt(OpNewOrder, 32).
		MustStoreUInt(queryID, 64).
		MustStoreBigUInt(new(big.Int).SetUint64(orderSeqno), 256).
		MustStoreBoolBit(isSigner).
		MustStoreUInt(uint64(index), 8).
		MustStoreUInt(uint64(expiresAt), 48).
		MustStoreRef(order).
		EndCell()
	return body.ToBOC(), nil
}

func (Multisig) ApproveBody(queryID uint64, signerIndex int) []byte {
	return cell.BeginCell().
		MustStoreUInt(OpApprove, 32).
		MustStoreUInt(queryID, 64).
		MustStoreUInt(uint64(signerIndex), 8).
		EndCell().
		ToBOC()
}

// Describe returns actions the way the order contract will report them.
func (m Multisig) Describe(actions []models.OutMessage) ([]models.OrderAction, error) {
	order, err := m.OrderCell(actions)
	if err != nil {
		return nil, err
	}
	return ParseOrder(order.ToBOC())
}

// ParseOrder decodes the order dictionary stored by an order contract.
func ParseOrder(boc []byte) (actions []models.OrderAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse order: %v", r)
		}
	}()
	if len(boc) == 0 {
		return nil, nil
	}
	root, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse BOC: %w", err)
	}
	dict, err := cell.BeginCell().MustStoreBoolBit(true).MustStoreRef(root).EndCell().BeginParse().LoadDict(8)
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary: %w", err)
	}
	all, err := dict.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary entries: %w", err)
	}
	for _, kv := range all {
		action, err := parseOrderAction(kv)
		if err != nil {
			action = models.OrderAction{Type: ActionUnknown}
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func parseOrderAction(kv cell.DictKV) (models.OrderAction, error) {
	ref, err := kv.Value.LoadRefCell()
	if err != nil {
		return models.OrderAction{}, fmt.Errorf("failed to load action: %w", err)
	}
	op, err := ref.BeginParse().PreloadUInt(32)
	if err != nil {
		return models.OrderAction{}, err
	}
	switch op {
	case actionSendMessage:
		var send orderSendMessageAction
		if err := tlb.LoadFromCell(&send, ref.BeginParse()); err != nil {
			return models.OrderAction{}, fmt.Errorf("failed to load send_message: %w", err)
		}
		action := models.OrderAction{
			SendMode: send.Mode,
			Value:    "0",
		}
		if dst := send.Body.Msg.DestAddr(); dst != nil && dst.Type() == address.StdAddress {
			action.Destination = models.FormatAddress(dst)
		}
		if internal, ok := send.Body.Msg.(*tlb.InternalMessage); ok {
			action.Value = internal.Amount.Nano().String()
		}
		payload := send.Body.Msg.Payload()
		if payload != nil {
			action.Body = payload.ToBOC()
		}
		describeBody(&action, payload)
		return action, nil
	case actionUpdateParams:
		return models.OrderAction{Type: ActionUpdateParams, Value: "0"}, nil
	}
	return models.OrderAction{}, fmt.Errorf("unknown order action type: %x", op)
}

// describeBody recognizes jetton and nft transfers in an action payload.
func describeBody(action *models.OrderAction, body *cell.Cell) {
	action.Type = ActionTonTransfer
	if body == nil {
		return
	}
	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return
	}
	op, err := slice.PreloadUInt(32)
	if err != nil {
		return
	}
	switch op {
	case OpComment:
	case OpJettonTransfer:
		var jt jettonTransferBody
		if tlb.LoadFromCell(&jt, body.BeginParse()) != nil {
			action.Type = ActionUnknown
			return
		}
		action.Type = ActionJettonTransfer
		action.JettonAmount = jt.Amount.Nano().String()
		if jt.Destination != nil {
			action.Recipient = models.FormatAddress(jt.Destination)
		}
	case OpNftTransfer:
		var nt nftTransferBody
		if tlb.LoadFromCell(&nt, body.BeginParse()) != nil {
			action.Type = ActionUnknown
			return
		}
		action.Type = ActionNftTransfer
		if nt.NewOwner != nil {
			action.Recipient = models.FormatAddress(nt.NewOwner)
		}
	default:
		action.Type = ActionUnknown
	}
}
