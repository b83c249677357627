package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/ton-confirmer/tx_confirmer"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

const (
	defaultTimeout = 30 * time.Second
	stateRetries   = 2

	stateEndpoint = "/v1/state"
	sendEndpoint  = "/v1/send"
)

// Error codes returned by the bridge in {"code": ..., "message": ...}.
const (
	CodeUserRejected       = "user_rejected"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeWalletDisconnected = "wallet_disconnected"
)

type Config struct {
	URL     string        `mapstructure:"url" json:"url,omitempty" envconfig:"WALLET_URL"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty" envconfig:"WALLET_TIMEOUT"`
}

// Bridge talks to a wallet bridge that holds the user's connected wallet
// session. It implements tx_confirmer.Wallet.
type Bridge struct {
	logger   *logrus.Logger
	baseURL  string
	client   *retryablehttp.Client
	validFor time.Duration
	now      func() time.Time
	newID    func() string
}

var _ tx_confirmer.Wallet = (*Bridge)(nil)

func NewBridge(logger *logrus.Logger, cfg Config, validFor time.Duration) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, errors.New("wallet bridge url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = timeout
	retryClient.Logger = logger
	retryClient.RetryMax = stateRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Bridge{
		logger:   logger.WithField("pkg", "wallet.bridge").Logger,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		client:   retryClient,
		validFor: validFor,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

type stateResponse struct {
	Connected bool   `json:"connected"`
	Account   string `json:"account,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sendMessage struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Bounce  bool   `json:"bounce"`
}

type sendRequest struct {
	RequestID  string        `json:"request_id"`
	ValidUntil int64         `json:"valid_until"`
	Messages   []sendMessage `json:"messages"`
}

type sendResponse struct {
	BOC string `json:"boc"`
}

func (b *Bridge) State(ctx context.Context) (tx_confirmer.ConnectionState, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+stateEndpoint, nil)
	if err != nil {
		return tx_confirmer.ConnectionState{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return tx_confirmer.ConnectionState{}, fmt.Errorf("%w: %v", tx_confirmer.ErrNetworkError, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tx_confirmer.ConnectionState{}, fmt.Errorf("%w: failed to read state: %v", tx_confirmer.ErrNetworkError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return tx_confirmer.ConnectionState{}, decodeError(resp.StatusCode, body)
	}

	var st stateResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return tx_confirmer.ConnectionState{}, fmt.Errorf("failed to decode state: %w", err)
	}
	out := tx_confirmer.ConnectionState{Connected: st.Connected}
	if st.Account != "" {
		acc, err := tx_confirmer.ParseAddress(st.Account)
		if err != nil {
			return tx_confirmer.ConnectionState{}, fmt.Errorf("bridge returned invalid account %q: %w", st.Account, err)
		}
		out.Account = acc
	}
	return out, nil
}

// Submit asks the wallet to sign and broadcast req. It is not retried, the
// user may already have approved the transfer.
func (b *Bridge) Submit(ctx context.Context, transfer tx_confirmer.TransferRequest) ([]byte, error) {
	payload := sendRequest{
		RequestID:  b.newID(),
		ValidUntil: b.now().Add(b.validFor).Unix(),
		Messages: []sendMessage{{
			Address: transfer.Destination.String(),
			Amount:  transfer.Amount.Nano().String(),
			Bounce:  transfer.Bounceable,
		}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+sendEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger := b.logger.WithFields(transfer.Fields()).WithField("request_id", payload.RequestID)
	logger.Info("sending transfer to wallet")

	resp, err := b.client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tx_confirmer.ErrNetworkError, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", tx_confirmer.ErrNetworkError, err)
	}
	if resp.StatusCode != http.StatusOK {
		err := decodeError(resp.StatusCode, body)
		logger.WithError(err).Info("wallet declined transfer")
		return nil, err
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	boc, err := txid.DecodeBOC(out.BOC)
	if err != nil {
		return nil, fmt.Errorf("txid.DecodeBOC: %w", err)
	}
	return boc, nil
}

func decodeError(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)

	switch e.Code {
	case CodeUserRejected:
		return fmt.Errorf("%w: %s", tx_confirmer.ErrUserRejected, e.Message)
	case CodeInsufficientFunds:
		return fmt.Errorf("%w: %s", tx_confirmer.ErrInsufficientFunds, e.Message)
	case CodeWalletDisconnected:
		return fmt.Errorf("%w: %s", tx_confirmer.ErrWalletDisconnected, e.Message)
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: bridge returned status %d", tx_confirmer.ErrNetworkError, status)
	}
	if e.Message != "" {
		return fmt.Errorf("bridge returned status %d: %s", status, e.Message)
	}
	return fmt.Errorf("bridge returned status %d: %s", status, string(body))
}
