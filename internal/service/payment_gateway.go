package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"toystore/config"
	"toystore/internal/apperr"
	"toystore/internal/models"
	"toystore/internal/util"

	"go.uber.org/zap"
)

// RemoteOrder is the gateway's record of an order awaiting payment.
type RemoteOrder struct {
	GatewayOrderID string `json:"id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// PaymentGateway drives the external payment provider. It holds no durable
// state of its own; every durable effect happens through the order store.
type PaymentGateway struct {
	cfg    config.GatewayConfig
	client *http.Client
	logger *zap.Logger
}

// NewPaymentGateway creates a gateway adapter with an explicit call timeout.
func NewPaymentGateway(cfg config.GatewayConfig) *PaymentGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaymentGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: util.GetLogger(),
	}
}

type remoteOrderRequest struct {
	Amount   int64  `json:"amount"` // paise
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateRemoteOrder creates one order on the gateway for the given internal
// order. The internal order id is sent as the idempotency key so a retried
// call never creates a duplicate remote order. A timeout leaves the order
// pending with no remote id recorded, which is safely retryable.
func (g *PaymentGateway) CreateRemoteOrder(ctx context.Context, order *models.Order, currency string) (*RemoteOrder, error) {
	ctx, span := util.StartSpan(ctx, "PaymentGateway.CreateRemoteOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayOrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(remoteOrderRequest{
		Amount:   order.TotalAmount,
		Currency: currency,
		Receipt:  order.OrderNumber,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.APIBaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", fmt.Sprintf("order-%d", order.ID))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperr.External("payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.External("failed to read gateway response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, apperr.External(
			fmt.Sprintf("payment gateway error (%d)", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperr.Newf(apperr.KindExternalService,
			"payment gateway rejected order creation (%d): %s", resp.StatusCode, respBody)
	}

	var remote RemoteOrder
	if err := json.Unmarshal(respBody, &remote); err != nil {
		return nil, apperr.External("failed to parse gateway response", err)
	}
	if remote.GatewayOrderID == "" {
		return nil, apperr.External("gateway returned empty order id", nil)
	}

	g.logger.Info("Remote gateway order created",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_order_id", remote.GatewayOrderID))

	return &remote, nil
}

// VerifySignature checks a client-submitted payment signature: HMAC-SHA256
// over "gatewayOrderID|gatewayPaymentID" with the key secret, compared in
// constant time. No outbound call is needed.
func (g *PaymentGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if g.cfg.KeySecret == "" {
		return false
	}
	expected := SignPayload([]byte(gatewayOrderID+"|"+gatewayPaymentID), g.cfg.KeySecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload computes the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature authenticates a raw webhook body against the
// provider signature header in constant time. A missing secret or signature
// always fails.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignPayload(rawBody, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
