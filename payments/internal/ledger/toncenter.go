package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/i3lani/paywatch/payments/internal/models"
)

// NewTonCenterV2 creates a provider for the toncenter v2 getTransactions API.
func NewTonCenterV2(name, baseURL string, opts ...Option) *HTTPProvider {
	return newHTTPProvider(name, baseURL, "X-API-Key", func(base, account string, limit int) string {
		q := url.Values{}
		q.Set("address", account)
		q.Set("limit", strconv.Itoa(limit))
		q.Set("archival", "true")
		return base + "/getTransactions?" + q.Encode()
	}, parseTonCenterV2, opts...)
}

type tcV2Response struct {
	OK     bool            `json:"ok"`
	Result []tcV2Tx        `json:"result"`
	Error  string          `json:"error"`
	Code   json.RawMessage `json:"code"`
}

type tcV2Tx struct {
	Utime         json.RawMessage `json:"utime"`
	TransactionID struct {
		Hash string `json:"hash"`
		Lt   string `json:"lt"`
	} `json:"transaction_id"`
	InMsg   *tcV2Msg  `json:"in_msg"`
	OutMsgs []tcV2Msg `json:"out_msgs"`
}

type tcV2Msg struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Value       json.RawMessage `json:"value"`
	Message     string          `json:"message"`
	MsgData     struct {
		Type string `json:"@type"`
		Text string `json:"text"`
	} `json:"msg_data"`
}

func parseTonCenterV2(body []byte) ([]models.RawTransaction, error) {
	var resp tcV2Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		if resp.Error == "" {
			return nil, errors.New("ok=false")
		}
		return nil, fmt.Errorf("provider error: %s", resp.Error)
	}

	now := time.Now().UTC()
	txs := make([]models.RawTransaction, 0, len(resp.Result))
	for _, t := range resp.Result {
		// External in-message: the account itself initiated the transaction.
		if t.InMsg == nil || t.InMsg.Source == "" || t.TransactionID.Hash == "" {
			continue
		}

		var dataText *string
		if t.InMsg.MsgData.Type == "msg.dataText" {
			dataText = decodeBase64Text(t.InMsg.MsgData.Text)
		}

		txs = append(txs, models.RawTransaction{
			TxHash:     canonicalHash(t.TransactionID.Hash),
			Sender:     t.InMsg.Source,
			Recipient:  t.InMsg.Destination,
			Amount:     parseNano(t.InMsg.Value),
			Memo:       firstMemo(memoPtr(t.InMsg.Message), dataText),
			ObservedAt: parseUnix(t.Utime, now),
		})
	}
	return txs, nil
}

// NewTonCenterV3 creates a provider for the toncenter v3 indexer API.
func NewTonCenterV3(name, baseURL string, opts ...Option) *HTTPProvider {
	return newHTTPProvider(name, baseURL, "X-API-Key", func(base, account string, limit int) string {
		q := url.Values{}
		q.Set("account", account)
		q.Set("limit", strconv.Itoa(limit))
		q.Set("sort", "desc")
		return base + "/api/v3/transactions?" + q.Encode()
	}, parseTonCenterV3, opts...)
}

type tcV3Response struct {
	Transactions *[]tcV3Tx `json:"transactions"`
}

type tcV3Tx struct {
	Hash  string          `json:"hash"`
	Now   json.RawMessage `json:"now"`
	InMsg *struct {
		Source         *string         `json:"source"`
		Destination    string          `json:"destination"`
		Value          json.RawMessage `json:"value"`
		MessageContent *struct {
			Body    string `json:"body"`
			Decoded *struct {
				Type    string `json:"type"`
				Comment string `json:"comment"`
			} `json:"decoded"`
		} `json:"message_content"`
	} `json:"in_msg"`
}

func parseTonCenterV3(body []byte) ([]models.RawTransaction, error) {
	var resp tcV3Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Transactions == nil {
		return nil, errors.New("missing transactions field")
	}

	now := time.Now().UTC()
	txs := make([]models.RawTransaction, 0, len(*resp.Transactions))
	for _, t := range *resp.Transactions {
		if t.InMsg == nil || t.InMsg.Source == nil || *t.InMsg.Source == "" || t.Hash == "" {
			continue
		}

		var memo *string
		if mc := t.InMsg.MessageContent; mc != nil && mc.Decoded != nil && mc.Decoded.Type == "text_comment" {
			memo = memoPtr(mc.Decoded.Comment)
		}

		txs = append(txs, models.RawTransaction{
			TxHash:     canonicalHash(t.Hash),
			Sender:     *t.InMsg.Source,
			Recipient:  t.InMsg.Destination,
			Amount:     parseNano(t.InMsg.Value),
			Memo:       memo,
			ObservedAt: parseUnix(t.Now, now),
		})
	}
	return txs, nil
}
