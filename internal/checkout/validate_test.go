package checkout

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
)

func reasons(t *testing.T, err error) map[string]string {
	t.Helper()
	var vErr *apierr.ValidationError
	require.True(t, errors.As(err, &vErr), "want ValidationError, got %v", err)
	out := make(map[string]string, len(vErr.Fields))
	for _, f := range vErr.Fields {
		out[f.Field] = f.Reason
	}
	return out
}

func TestValidate_ValidRequests(t *testing.T) {
	assert.NoError(t, Validate(signedInRequest(), true, true))
	assert.NoError(t, Validate(guestRequest(), false, true))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		req           func() Request
		authenticated bool
		online        bool
		want          map[string]string
	}{
		{
			name:          "empty cart and terms",
			req:           func() Request { r := signedInRequest(); r.Items = nil; r.AcceptedTerms = false; return r },
			authenticated: true, online: true,
			want: map[string]string{FieldCart: apierr.ReasonCartEmpty, FieldTerms: apierr.ReasonTermsRequired},
		},
		{
			name: "weight notice required",
			req: func() Request {
				r := signedInRequest()
				r.RequiresWeightNotice = true
				return r
			},
			authenticated: true, online: true,
			want: map[string]string{FieldWeightNotice: apierr.ReasonWeightNotice},
		},
		{
			name:          "signed-in address and zone",
			req:           func() Request { r := signedInRequest(); r.AddressID = ""; r.ZoneID = " "; return r },
			authenticated: true, online: true,
			want: map[string]string{FieldAddress: apierr.ReasonAddressRequired, FieldZone: apierr.ReasonZoneRequired},
		},
		{
			name:          "guest contact missing",
			req:           func() Request { r := guestRequest(); r.Contact = Contact{}; return r },
			authenticated: false, online: true,
			want: map[string]string{
				FieldName:    apierr.ReasonNameRequired,
				FieldPhone:   apierr.ReasonPhoneRequired,
				FieldAddress: apierr.ReasonAddressRequired,
			},
		},
		{
			name:          "guest phone invalid",
			req:           func() Request { r := guestRequest(); r.Contact.Phone = "12ab"; return r },
			authenticated: false, online: true,
			want: map[string]string{FieldPhone: apierr.ReasonPhoneInvalid},
		},
		{
			name:          "card needs saved method",
			req:           func() Request { r := signedInRequest(); r.PaymentMethod = PaymentCard; return r },
			authenticated: true, online: true,
			want: map[string]string{FieldSavedMethod: apierr.ReasonSavedMethodMissing},
		},
		{
			name:          "payment missing",
			req:           func() Request { r := signedInRequest(); r.PaymentMethod = ""; return r },
			authenticated: true, online: true,
			want: map[string]string{FieldPayment: apierr.ReasonPaymentRequired},
		},
		{
			name:          "scheduled needs slot",
			req:           func() Request { r := signedInRequest(); r.Mode = ModeScheduled; return r },
			authenticated: true, online: true,
			want: map[string]string{FieldSlot: apierr.ReasonSlotRequired},
		},
		{
			name:          "offline",
			req:           signedInRequest,
			authenticated: true, online: false,
			want: map[string]string{FieldConnectivity: apierr.ReasonOffline},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req(), tt.authenticated, tt.online)
			assert.Equal(t, tt.want, reasons(t, err))
		})
	}
}

func TestValidate_OfflineIsLocalized(t *testing.T) {
	err := Validate(signedInRequest(), true, false)
	assert.Equal(t, "You are offline. Connect to place your order.", apierr.UserMessage(err, "en"))
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
}
