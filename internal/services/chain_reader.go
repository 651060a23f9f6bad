// internal/services/chain_reader.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/models"
)

// ChainTransaction is one observed on-chain transaction at an address.
type ChainTransaction struct {
	TxHash        string   `json:"tx_hash"`
	Amount        float64  `json:"amount"`
	Confirmations int      `json:"confirmations"`
	Outputs       []string `json:"outputs"`
}

// VerifyResult is a chain reader's judgment on a single transaction.
type VerifyResult struct {
	Verified      bool    `json:"verified"`
	Amount        float64 `json:"amount"`
	Confirmations int     `json:"confirmations"`
	Status        string  `json:"status"`
}

// ChainReader reads transaction data from the blockchain networks.
// Implementations wrap external explorer/node APIs.
type ChainReader interface {
	GetTransactionsForAddress(ctx context.Context, chain models.Chain, address string) ([]ChainTransaction, error)
	VerifyTransaction(ctx context.Context, chain models.Chain, txHash, address string, expectedAmount float64) (*VerifyResult, error)
}

// AddressWatcher subscribes an address to push notifications from the
// chain notifier. Registration is best-effort: the polling loop covers
// addresses the notifier never calls back for.
type AddressWatcher interface {
	WatchAddress(ctx context.Context, chain models.Chain, address string) (string, error)
}

// HTTPChainReader talks to a block explorer aggregation API.
type HTTPChainReader struct {
	baseURL string
	client  *http.Client
}

func NewHTTPChainReader(cfg *config.Config) *HTTPChainReader {
	return &HTTPChainReader{
		baseURL: strings.TrimRight(cfg.Crypto.ChainAPIBaseURL, "/"),
		client: &http.Client{
			Timeout: time.Duration(cfg.Crypto.RequestTimeoutSecs) * time.Second,
		},
	}
}

func (r *HTTPChainReader) GetTransactionsForAddress(ctx context.Context, chain models.Chain, address string) ([]ChainTransaction, error) {
	endpoint := fmt.Sprintf("%s/%s/address/%s/transactions",
		r.baseURL, strings.ToLower(string(chain)), url.PathEscape(address))

	var body struct {
		Data []ChainTransaction `json:"data"`
	}
	if err := r.getJSON(ctx, endpoint, &body); err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for %s address %s: %w", chain, address, err)
	}

	return body.Data, nil
}

func (r *HTTPChainReader) VerifyTransaction(ctx context.Context, chain models.Chain, txHash, address string, expectedAmount float64) (*VerifyResult, error) {
	endpoint := fmt.Sprintf("%s/%s/transaction/%s?address=%s&expected=%f",
		r.baseURL, strings.ToLower(string(chain)), url.PathEscape(txHash),
		url.QueryEscape(address), expectedAmount)

	var body struct {
		Data VerifyResult `json:"data"`
	}
	if err := r.getJSON(ctx, endpoint, &body); err != nil {
		return nil, &VerificationFailure{Chain: chain, TxHash: txHash, Err: err}
	}

	return &body.Data, nil
}

// WatchAddress registers the address with the notifier and returns the
// subscription id.
func (r *HTTPChainReader) WatchAddress(ctx context.Context, chain models.Chain, address string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/address/%s/watch",
		r.baseURL, strings.ToLower(string(chain)), url.PathEscape(address))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to register watch for %s address %s: %w", chain, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("notifier returned status %d for watch registration", resp.StatusCode)
	}

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode watch registration: %w", err)
	}

	return body.Data.ID, nil
}

func (r *HTTPChainReader) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chain API returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
