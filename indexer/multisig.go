package indexer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/models"
)

const orderColumns = `address, multisig_address, order_seqno, threshold, sent_for_execution, approvals_mask,
	approvals_num, expiration_date, order_boc, signers`

type orderRow struct {
	Address          string
	MultisigAddress  string
	OrderSeqno       *string
	Threshold        *int32
	SentForExecution *bool
	ApprovalsMask    *string
	ApprovalsNum     *int32
	ExpirationDate   *uint64
	OrderBoc         *string
	Signers          []string
}

func scanOrder(row pgx.Row) (*orderRow, error) {
	var o orderRow
	err := row.Scan(
		&o.Address,
		&o.MultisigAddress,
		&o.OrderSeqno,
		&o.Threshold,
		&o.SentForExecution,
		&o.ApprovalsMask,
		&o.ApprovalsNum,
		&o.ExpirationDate,
		&o.OrderBoc,
		&o.Signers,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ApprovalIndices expands an approvals bit mask into signer indices.
func ApprovalIndices(mask string) ([]int, error) {
	if mask == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(mask, 10)
	if !ok {
		return nil, fmt.Errorf("invalid approvals mask %q", mask)
	}
	var indices []int
	for i := 0; i < v.BitLen(); i++ {
		if v.Bit(i) == 1 {
			indices = append(indices, i)
		}
	}
	return indices, nil
}

func (o *orderRow) toOrder() (*models.Order, error) {
	order := &models.Order{
		Address:         models.AccountAddress(o.Address),
		MultisigAddress: models.AccountAddress(o.MultisigAddress),
		State:           models.OrderPending,
	}
	if o.OrderSeqno != nil {
		seqno, err := strconv.ParseUint(*o.OrderSeqno, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid order seqno: %w", err)
		}
		order.OrderSeqno = seqno
	}
	if o.Threshold != nil {
		order.Threshold = int(*o.Threshold)
	}
	if o.SentForExecution != nil && *o.SentForExecution {
		order.State = models.OrderSent
	}
	if o.ApprovalsMask != nil {
		approvals, err := ApprovalIndices(*o.ApprovalsMask)
		if err != nil {
			return nil, err
		}
		order.Approvals = approvals
	}
	if o.ExpirationDate != nil {
		order.ValidUntil = int64(*o.ExpirationDate)
	}
	for _, s := range o.Signers {
		order.Signers = append(order.Signers, models.AccountAddress(s))
	}
	if o.OrderBoc != nil && len(*o.OrderBoc) > 0 {
		boc, err := base64.StdEncoding.DecodeString(*o.OrderBoc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode order boc: %w", err)
		}
		actions, err := chain.ParseOrder(boc)
		if err != nil {
			return nil, err
		}
		order.Actions = actions
	}
	return order, nil
}

func (c *Client) queryOrder(ctx context.Context, query string, args ...any) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	row, err := scanOrder(c.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toOrder()
}

func (c *Client) Order(ctx context.Context, addr models.AccountAddress) (*models.Order, error) {
	return c.queryOrder(ctx, `SELECT `+orderColumns+` FROM multisig_orders WHERE address = $1`, string(addr))
}

func (c *Client) OrderBySeqno(ctx context.Context, multisig models.AccountAddress, seqno uint64) (*models.Order, error) {
	return c.queryOrder(ctx, `SELECT `+orderColumns+` FROM multisig_orders
		WHERE multisig_address = $1 AND order_seqno = $2::numeric`, string(multisig), strconv.FormatUint(seqno, 10))
}

func (c *Client) MultisigAccount(ctx context.Context, addr models.AccountAddress) (*models.MultisigAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var (
		address   string
		nextSeqno *string
		threshold *int32
		signers   []string
		proposers []string
	)
	err := c.Pool.QueryRow(ctx, `SELECT address, next_order_seqno, threshold, signers, proposers
		FROM multisig WHERE address = $1`, string(addr)).Scan(&address, &nextSeqno, &threshold, &signers, &proposers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	account := &models.MultisigAccount{Address: models.AccountAddress(address)}
	if nextSeqno != nil {
		if account.NextOrderSeqno, err = strconv.ParseUint(*nextSeqno, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid next order seqno: %w", err)
		}
	}
	if threshold != nil {
		account.Threshold = int(*threshold)
	}
	for _, s := range signers {
		account.Signers = append(account.Signers, models.AccountAddress(s))
	}
	for _, p := range proposers {
		account.Proposers = append(account.Proposers, models.AccountAddress(p))
	}
	return account, nil
}
