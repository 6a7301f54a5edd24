package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressValid(t *testing.T) {
	addr := Address{
		Name:       "Asha Rao",
		Line1:      "12 Toy Street",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
	}
	assert.True(t, addr.Valid())

	addr.PostalCode = ""
	assert.False(t, addr.Valid())

	assert.False(t, Address{}.Valid())
}

func TestEventLogSeenAndAppend(t *testing.T) {
	now := time.Now()
	var log EventLog

	assert.False(t, log.Seen("payment.captured", "gw_pay_1"))
	assert.True(t, log.Append("payment.captured", "gw_pay_1", nil, now))
	assert.True(t, log.Seen("payment.captured", "gw_pay_1"))

	// Same pair with a different payload is still a duplicate.
	assert.False(t, log.Append("payment.captured", "gw_pay_1", []byte(`{"amount":1}`), now))
	assert.Len(t, log, 1)
}

func TestEventLogScanEmptyColumn(t *testing.T) {
	var log EventLog
	require.NoError(t, log.Scan(nil))
	assert.Empty(t, log)

	require.NoError(t, log.Scan([]byte(`[{"kind":"payment.captured","gateway_id":"gw_pay_1","received_at":"2026-06-15T12:00:00Z"}]`)))
	assert.True(t, log.Seen("payment.captured", "gw_pay_1"))
}

func TestActorOwnership(t *testing.T) {
	order := &Order{ID: 1, UserID: 7}

	assert.True(t, Actor{UserID: 7, Role: ActorRoleCustomer}.Owns(order))
	assert.False(t, Actor{UserID: 8, Role: ActorRoleCustomer}.Owns(order))
	assert.False(t, Actor{UserID: 7, Role: ActorRoleAdmin}.Owns(order))
	assert.True(t, Actor{Role: ActorRoleAdmin}.IsAdmin())
	assert.True(t, Actor{Role: ActorRoleSystem}.IsSystem())
}
