package service

import (
	"testing"

	"toystore/config"

	"github.com/stretchr/testify/assert"
)

func testGateway(secret string) *PaymentGateway {
	return NewPaymentGateway(config.GatewayConfig{
		APIBaseURL: "https://gateway.example",
		KeyID:      "key_test",
		KeySecret:  secret,
	})
}

func TestVerifySignature(t *testing.T) {
	g := testGateway("s3cret")

	sig := SignPayload([]byte("gw_order_1|gw_pay_1"), "s3cret")

	assert.True(t, g.VerifySignature("gw_order_1", "gw_pay_1", sig))
	assert.False(t, g.VerifySignature("gw_order_1", "gw_pay_2", sig))
	assert.False(t, g.VerifySignature("gw_order_1", "gw_pay_1", "deadbeef"))
}

func TestVerifySignatureEmptySecret(t *testing.T) {
	g := testGateway("")

	sig := SignPayload([]byte("gw_order_1|gw_pay_1"), "")
	assert.False(t, g.VerifySignature("gw_order_1", "gw_pay_1", sig))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := SignPayload(body, "hook-secret")

	assert.True(t, VerifyWebhookSignature(body, sig, "hook-secret"))
	assert.False(t, VerifyWebhookSignature(body, sig, "other-secret"))
	assert.False(t, VerifyWebhookSignature([]byte(`{}`), sig, "hook-secret"))
	assert.False(t, VerifyWebhookSignature(body, "", "hook-secret"))
	assert.False(t, VerifyWebhookSignature(body, sig, ""))
}
