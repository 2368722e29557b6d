package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePaymentStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    PaymentStatus
		wantErr bool
	}{
		{name: "canonical lowercase", input: "completed", want: PaymentStatusCompleted},
		{name: "uppercase normalized", input: "AUTHENTICATED", want: PaymentStatusAuthenticated},
		{name: "mixed case normalized", input: "Refund_Pending", want: PaymentStatusRefundPending},
		{name: "pending", input: "pending", want: PaymentStatusPending},
		{name: "voided", input: "voided", want: PaymentStatusVoided},
		{name: "unknown rejected", input: "charged_back", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePaymentStatus(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.True(t, PaymentStatusCompleted.Terminal())
	assert.True(t, PaymentStatusFailed.Terminal())
	assert.True(t, PaymentStatusRefunded.Terminal())
	assert.True(t, PaymentStatusVoided.Terminal())
	assert.False(t, PaymentStatusPending.Terminal())
	assert.False(t, PaymentStatusAuthenticated.Terminal())
	assert.False(t, PaymentStatusRefundPending.Terminal())
}
