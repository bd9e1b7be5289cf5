package schema

import (
	"errors"
	"testing"

	"github.com/leadsong/backend/internal/apperr"
)

func TestValidate(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name    string
		schema  string
		payload string
		wantErr bool
	}{
		{"purchase ok", PaymentEvent, `{"event_type":"checkout.session.completed","external_event_id":"evt_abc","metadata":{"user_id":"6f1c2a8e-3f7d-4a43-9a43-1f6d2a3b4c5d","credits":5,"package_id":"starter"}}`, false},
		{"purchase missing credits", PaymentEvent, `{"event_type":"payment.completed","external_event_id":"evt_1","metadata":{"user_id":"6f1c2a8e-3f7d-4a43-9a43-1f6d2a3b4c5d"}}`, true},
		{"purchase zero credits", PaymentEvent, `{"event_type":"payment.completed","external_event_id":"evt_1","metadata":{"user_id":"6f1c2a8e-3f7d-4a43-9a43-1f6d2a3b4c5d","credits":0}}`, true},
		{"purchase bad user id", PaymentEvent, `{"event_type":"payment.completed","external_event_id":"evt_1","metadata":{"user_id":"42","credits":1}}`, true},
		{"missing event id", PaymentEvent, `{"event_type":"payment.completed"}`, true},
		{"account update ok", PaymentEvent, `{"event_type":"account.updated","external_event_id":"evt_2","account":{"external_account_id":"acct_1","transfer_enabled":true}}`, false},
		{"account update missing account", PaymentEvent, `{"event_type":"account.updated","external_event_id":"evt_2"}`, true},
		{"other event types pass", PaymentEvent, `{"event_type":"invoice.created","external_event_id":"evt_3"}`, false},
		{"redeem ok", RedeemRequest, `{"propertyIds":["6f1c2a8e-3f7d-4a43-9a43-1f6d2a3b4c5d"],"email":"a@example.com"}`, false},
		{"redeem empty", RedeemRequest, `{"propertyIds":[]}`, true},
		{"redeem duplicate", RedeemRequest, `{"propertyIds":["6f1c2a8e-3f7d-4a43-9a43-1f6d2a3b4c5d","6f1c2a8e-3f7d-4a43-9a43-1f6d2a3b4c5d"]}`, true},
		{"redeem unknown field", RedeemRequest, `{"propertyIds":["6f1c2a8e-3f7d-4a43-9a43-1f6d2a3b4c5d"],"credits":1}`, true},
		{"payee ok", PayeeAccount, `{"external_account_id":"acct_1Nv0"}`, false},
		{"payee bad chars", PayeeAccount, `{"external_account_id":"acct 1;"}`, true},
		{"register ok", RegisterRequest, `{"email":"a@example.com","password":"hunter22!","referral_code":"ABCD1234"}`, false},
		{"register short password", RegisterRequest, `{"email":"a@example.com","password":"short"}`, true},
		{"malformed", RedeemRequest, `{"propertyIds":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.schema, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrBadInput) {
				t.Errorf("error %v does not wrap ErrBadInput", err)
			}
		})
	}
}

func TestValidateUnknownSchema(t *testing.T) {
	v := MustNew()
	if err := v.Validate("nope", []byte(`{}`)); err == nil || errors.Is(err, apperr.ErrBadInput) {
		t.Errorf("unknown schema should be a programming error, got %v", err)
	}
}
