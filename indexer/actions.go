package indexer

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/toncenter/ton-dispatch-go/models"
)

// Transfer is a value movement recorded by the indexer.
type Transfer struct {
	Type        string                `json:"type"`
	Source      models.AccountAddress `json:"source"`
	Destination models.AccountAddress `json:"destination"`
	// Asset is empty for the native coin, else the jetton master or nft item.
	Asset   models.AccountAddress `json:"asset,omitempty"`
	Amount  string                `json:"amount"`
	Success bool                  `json:"success"`
}

// Execution is the trace in which a multisig executed an order.
type Execution struct {
	TraceID   string     `json:"trace_id"`
	Success   bool       `json:"success"`
	Utime     int64      `json:"utime"`
	Transfers []Transfer `json:"transfers"`
}

// OrderExecution looks up the execution of an order and what the multisig sent in the same trace.
func (c *Client) OrderExecution(ctx context.Context, multisig models.AccountAddress, orderSeqno uint64) (*Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var exec Execution
	var success *bool
	var utime *int64
	err := c.Pool.QueryRow(ctx, `
		SELECT A.trace_id, A.success, A.end_utime
		FROM actions as A
		WHERE A.type = 'multisig_execute' AND A.destination = $1
		  AND (A.multisig_execute_data).order_seqno = $2::numeric
		ORDER BY A.end_lt DESC
		LIMIT 1`, string(multisig), strconv.FormatUint(orderSeqno, 10)).Scan(&exec.TraceID, &success, &utime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	exec.Success = success != nil && *success
	if utime != nil {
		exec.Utime = *utime
	}

	rows, err := c.Pool.Query(ctx, `
		SELECT A.type, A.source, A.destination, A.asset, A.amount, A.value, A.success
		FROM actions as A
		WHERE A.trace_id = $1 AND A.source = $2
		  AND A.type IN ('ton_transfer', 'jetton_transfer', 'nft_transfer')
		ORDER BY A.start_lt`, exec.TraceID, string(multisig))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t                    Transfer
			source, destination  *string
			asset, amount, value *string
			ok                   *bool
		)
		if err := rows.Scan(&t.Type, &source, &destination, &asset, &amount, &value, &ok); err != nil {
			return nil, err
		}
		if source != nil {
			t.Source = models.AccountAddress(*source)
		}
		if destination != nil {
			t.Destination = models.AccountAddress(*destination)
		}
		if asset != nil {
			t.Asset = models.AccountAddress(*asset)
		}
		switch {
		case t.Type == "ton_transfer" && value != nil:
			t.Amount = *value
		case amount != nil:
			t.Amount = *amount
		default:
			t.Amount = "0"
		}
		t.Success = ok != nil && *ok
		exec.Transfers = append(exec.Transfers, t)
	}
	return &exec, rows.Err()
}

// JettonWallet returns the jetton wallet of owner for a jetton master and its balance.
func (c *Client) JettonWallet(ctx context.Context, owner, master models.AccountAddress) (models.AccountAddress, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var address string
	var balance *string
	err := c.Pool.QueryRow(ctx, `SELECT address, balance FROM jetton_wallets
		WHERE owner = $1 AND jetton = $2 LIMIT 1`, string(owner), string(master)).Scan(&address, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", models.ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	if balance == nil {
		return models.AccountAddress(address), "0", nil
	}
	return models.AccountAddress(address), *balance, nil
}
