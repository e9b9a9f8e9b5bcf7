package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactor_Redact(t *testing.T) {
	r := New()

	tests := []struct {
		name  string
		input string
		want  string
		kind  Kind
	}{
		{
			name:  "email keeps domain",
			input: "Contact me at jane.doe@example.com please",
			want:  "Contact me at ****@example.com please",
			kind:  KindEmail,
		},
		{
			name:  "card keeps last four",
			input: "card 4111 1111 1111 1234 was charged",
			want:  "card **** **** **** 1234 was charged",
			kind:  KindCreditCard,
		},
		{
			name:  "account number keeps keyword",
			input: "from account #123456789012",
			want:  "from account #************",
			kind:  KindAccountNumber,
		},
		{
			name:  "routing number",
			input: "routing: 021000021",
			want:  "routing: *********",
			kind:  KindRoutingNumber,
		},
		{
			name:  "ssn",
			input: "my SSN is 123-45-6789",
			want:  "my SSN is ***-**-****",
			kind:  KindSSN,
		},
		{
			name:  "phone keeps format",
			input: "call (555) 123-4567 today",
			want:  "call (***) ***-**** today",
			kind:  KindPhone,
		},
		{
			name:  "ip address",
			input: "login from 192.168.10.4 yesterday",
			want:  "login from ***.***.**.* yesterday",
			kind:  KindIPAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Redact(tt.input)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, 1, res.Counts[tt.kind])
			assert.Equal(t, 1, res.Total())
		})
	}
}

func TestRedactor_NoPII(t *testing.T) {
	res := New().Redact("I never received my order from the store.")
	assert.Equal(t, "I never received my order from the store.", res.Text)
	assert.Equal(t, 0, res.Total())

	detail := res.Detail()
	assert.Equal(t, false, detail["pii_detected"])
	assert.Equal(t, 0, detail["redaction_count"])
}

func TestRedactor_Multiple(t *testing.T) {
	res := New().Redact("Email a@b.io or b@c.io, SSN 123456789")
	assert.Equal(t, "Email ****@b.io or ****@c.io, SSN *********", res.Text)
	assert.Equal(t, 2, res.Counts[KindEmail])
	assert.Equal(t, 1, res.Counts[KindSSN])

	detail := res.Detail()
	assert.Equal(t, true, detail["pii_detected"])
	assert.Equal(t, 3, detail["redaction_count"])
	assert.Equal(t, map[string]int{"email": 2, "ssn": 1}, detail["pii_summary"])
}
