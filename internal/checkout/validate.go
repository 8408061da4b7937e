package checkout

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
)

// Field names reported in validation errors.
const (
	FieldCart         = "cart"
	FieldTerms        = "terms"
	FieldWeightNotice = "weightNotice"
	FieldAddress      = "address"
	FieldZone         = "zone"
	FieldName         = "name"
	FieldPhone        = "phone"
	FieldPayment      = "paymentMethod"
	FieldSavedMethod  = "savedMethodId"
	FieldSlot         = "deliveryWindowId"
	FieldConnectivity = "connectivity"
)

// phonePattern accepts 8 to 15 digits with an optional leading +, after
// spaces, dashes and parentheses are stripped.
var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

var phoneNoise = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// Validate checks every client-side precondition of req and returns a
// *apierr.ValidationError listing all failed fields, or nil.
func Validate(req Request, authenticated, online bool) error {
	v := &apierr.ValidationError{}

	if len(req.Items) == 0 {
		v.Add(FieldCart, apierr.ReasonCartEmpty)
	}
	if !req.AcceptedTerms {
		v.Add(FieldTerms, apierr.ReasonTermsRequired)
	}
	if req.RequiresWeightNotice && !req.AcceptedWeightNotice {
		v.Add(FieldWeightNotice, apierr.ReasonWeightNotice)
	}

	if authenticated {
		if strings.TrimSpace(req.AddressID) == "" {
			v.Add(FieldAddress, apierr.ReasonAddressRequired)
		}
		if strings.TrimSpace(req.ZoneID) == "" {
			v.Add(FieldZone, apierr.ReasonZoneRequired)
		}
	} else {
		if clean(req.Contact.Name) == "" {
			v.Add(FieldName, apierr.ReasonNameRequired)
		}
		switch phone := NormalizePhone(req.Contact.Phone); {
		case phone == "":
			v.Add(FieldPhone, apierr.ReasonPhoneRequired)
		case !phonePattern.MatchString(phone):
			v.Add(FieldPhone, apierr.ReasonPhoneInvalid)
		}
		if clean(req.Contact.Address) == "" {
			v.Add(FieldAddress, apierr.ReasonAddressRequired)
		}
	}

	switch {
	case req.PaymentMethod == "":
		v.Add(FieldPayment, apierr.ReasonPaymentRequired)
	case req.PaymentMethod != PaymentCash && strings.TrimSpace(req.SavedMethodID) == "":
		v.Add(FieldSavedMethod, apierr.ReasonSavedMethodMissing)
	}

	if req.Mode == ModeScheduled && strings.TrimSpace(req.DeliveryWindowID) == "" {
		v.Add(FieldSlot, apierr.ReasonSlotRequired)
	}
	if !online {
		v.Add(FieldConnectivity, apierr.ReasonOffline)
	}

	return v.Err()
}

// NormalizePhone strips formatting characters from a phone number.
func NormalizePhone(phone string) string {
	return phoneNoise.Replace(strings.TrimSpace(phone))
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
