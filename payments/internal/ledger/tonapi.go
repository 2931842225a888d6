package ledger

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/i3lani/paywatch/payments/internal/models"
)

// NewTonAPI creates a provider for the tonapi v2 blockchain API.
func NewTonAPI(name, baseURL string, opts ...Option) *HTTPProvider {
	return newHTTPProvider(name, baseURL, "Authorization", func(base, account string, limit int) string {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("sort_order", "desc")
		return base + "/v2/blockchain/accounts/" + url.PathEscape(account) + "/transactions?" + q.Encode()
	}, parseTonAPI, opts...)
}

type tonapiResponse struct {
	Transactions *[]tonapiTx `json:"transactions"`
}

type tonapiAccount struct {
	Address string `json:"address"`
}

type tonapiTx struct {
	Hash    string          `json:"hash"`
	Utime   json.RawMessage `json:"utime"`
	Success *bool           `json:"success"`
	InMsg   *struct {
		MsgType       string          `json:"msg_type"`
		Value         json.RawMessage `json:"value"`
		Source        *tonapiAccount  `json:"source"`
		Destination   *tonapiAccount  `json:"destination"`
		DecodedOpName string          `json:"decoded_op_name"`
		DecodedBody   *struct {
			Text string `json:"text"`
		} `json:"decoded_body"`
	} `json:"in_msg"`
}

func parseTonAPI(body []byte) ([]models.RawTransaction, error) {
	var resp tonapiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Transactions == nil {
		return nil, errors.New("missing transactions field")
	}

	now := time.Now().UTC()
	txs := make([]models.RawTransaction, 0, len(*resp.Transactions))
	for _, t := range *resp.Transactions {
		in := t.InMsg
		if in == nil || t.Hash == "" || in.MsgType == "ext_in_msg" || in.Source == nil || in.Source.Address == "" {
			continue
		}
		if t.Success != nil && !*t.Success {
			continue
		}

		var memo *string
		if in.DecodedBody != nil {
			memo = memoPtr(in.DecodedBody.Text)
		}
		var recipient string
		if in.Destination != nil {
			recipient = in.Destination.Address
		}

		txs = append(txs, models.RawTransaction{
			TxHash:     canonicalHash(t.Hash),
			Sender:     in.Source.Address,
			Recipient:  recipient,
			Amount:     parseNano(in.Value),
			Memo:       memo,
			ObservedAt: parseUnix(t.Utime, now),
		})
	}
	return txs, nil
}
