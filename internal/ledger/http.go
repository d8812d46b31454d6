package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/config"
)

// HTTPLedger debits balances through the marketplace's ledger service.
type HTTPLedger struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPLedger(baseURL, apiKey string) *HTTPLedger {
	return &HTTPLedger{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: config.DebitCallTimeout,
		},
	}
}

type debitRequest struct {
	AccountID   string `json:"accountId"`
	Units       int64  `json:"units"`
	ReferenceID string `json:"referenceId"`
}

func (l *HTTPLedger) Debit(ctx context.Context, accountID string, units int64, referenceID string) (Outcome, error) {
	body, err := json.Marshal(debitRequest{
		AccountID:   accountID,
		Units:       units,
		ReferenceID: referenceID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal debit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/debits", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	start := time.Now()
	resp, err := l.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("referenceId", referenceID).
			Dur("elapsed", elapsed).
			Msg("ledger debit request error")
		return "", fmt.Errorf("debit request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Info().
			Str("referenceId", referenceID).
			Int64("units", units).
			Dur("elapsed", elapsed).
			Msg("ledger debit successful")
		return OutcomeCharged, nil

	case resp.StatusCode == http.StatusPaymentRequired:
		log.Warn().
			Str("referenceId", referenceID).
			Str("accountId", accountID).
			Int64("units", units).
			Msg("ledger debit declined: insufficient balance")
		return OutcomeInsufficientBalance, nil

	default:
		log.Error().
			Str("referenceId", referenceID).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("ledger debit failed")
		return "", fmt.Errorf("debit failed with status %d", resp.StatusCode)
	}
}
