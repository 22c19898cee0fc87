package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/odin-eye1/telegrambot/internal/coinaddr"
)

// BlockCypher is a Client backed by the BlockCypher explorer API.
type BlockCypher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewBlockCypher creates an explorer client. baseURL is the API root
// without a trailing slash, e.g. "https://api.blockcypher.com/v1".
// token is optional; without one the free rate limits apply.
func NewBlockCypher(baseURL, token string) *BlockCypher {
	return &BlockCypher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type txEndpoint struct {
	Addresses []string `json:"addresses"`
}

type txResponse struct {
	Confirmations int          `json:"confirmations"`
	Total         int64        `json:"total"`
	Inputs        []txEndpoint `json:"inputs"`
	Outputs       []txEndpoint `json:"outputs"`
}

func (b *BlockCypher) GetTransaction(ctx context.Context, txID string, family coinaddr.Family) (*Tx, error) {
	u := fmt.Sprintf("%s/%s/main/txs/%s", b.baseURL, family, url.PathEscape(txID))
	if b.token != "" {
		u += "?token=" + url.QueryEscape(b.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build explorer request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &TerminalError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	var tx txResponse
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("undecodable explorer response: %w", err)}
	}

	out := &Tx{
		Confirmations: tx.Confirmations,
		TotalAmount:   tx.Total,
	}
	for _, in := range tx.Inputs {
		out.Inputs = append(out.Inputs, in.Addresses...)
	}
	for _, o := range tx.Outputs {
		out.Outputs = append(out.Outputs, o.Addresses...)
	}
	return out, nil
}
