package apierr

import (
	"errors"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Catalog keys for kinds that carry no backend code.
const (
	msgGeneric = "generic"
	msgNetwork = "network"
	msgTimeout = "timeout"
	msgAuth    = "auth"
)

// translations maps a key (backend code, validation reason or kind) to its
// English and Arabic strings. Messages must not contain format verbs.
var translations = map[string][2]string{
	msgGeneric: {"Something went wrong. Please try again.", "حدث خطأ ما. يرجى المحاولة مرة أخرى."},
	msgNetwork: {"Check your internet connection and try again.", "تحقق من اتصالك بالإنترنت وحاول مرة أخرى."},
	msgTimeout: {"The request took too long. Please try again.", "استغرق الطلب وقتًا طويلاً. يرجى المحاولة مرة أخرى."},
	msgAuth:    {"Your session has expired. Please sign in again.", "انتهت جلستك. يرجى تسجيل الدخول مرة أخرى."},

	"CART_EMPTY":                  {"Your cart is empty.", "سلة التسوق فارغة."},
	"PRODUCT_UNAVAILABLE":         {"One of the products is no longer available.", "أحد المنتجات لم يعد متاحًا."},
	"INSUFFICIENT_STOCK":          {"Not enough stock for one of the items.", "الكمية المتاحة غير كافية لأحد المنتجات."},
	"DELIVERY_ZONE_UNAVAILABLE":   {"We do not deliver to this area yet.", "لا نقوم بالتوصيل إلى هذه المنطقة حاليًا."},
	"BRANCH_CLOSED":               {"The store is closed right now.", "المتجر مغلق حاليًا."},
	"MIN_ORDER_NOT_MET":           {"Your order is below the minimum amount.", "طلبك أقل من الحد الأدنى."},
	"COUPON_INVALID":              {"This coupon code is not valid.", "رمز القسيمة غير صالح."},
	"COUPON_EXPIRED":              {"This coupon has expired.", "انتهت صلاحية هذه القسيمة."},
	"PAYMENT_METHOD_INVALID":      {"The selected payment method cannot be used.", "لا يمكن استخدام طريقة الدفع المختارة."},
	"SLOT_UNAVAILABLE":            {"The selected delivery slot is no longer available.", "موعد التوصيل المختار لم يعد متاحًا."},
	"ORDER_NOT_CANCELABLE":        {"This order can no longer be canceled.", "لم يعد من الممكن إلغاء هذا الطلب."},
	"LOYALTY_INSUFFICIENT_POINTS": {"You do not have enough loyalty points.", "ليس لديك نقاط ولاء كافية."},
	"IDEMPOTENCY_CONFLICT":        {"This order is already being processed.", "هذا الطلب قيد المعالجة بالفعل."},

	ReasonCartEmpty:          {"Add items to your cart first.", "أضف منتجات إلى السلة أولاً."},
	ReasonTermsRequired:      {"Please accept the delivery terms.", "يرجى الموافقة على شروط التوصيل."},
	ReasonWeightNotice:       {"Please confirm the weight-based pricing notice.", "يرجى تأكيد إشعار التسعير حسب الوزن."},
	ReasonAddressRequired:    {"Please choose a delivery address.", "يرجى اختيار عنوان التوصيل."},
	ReasonZoneRequired:       {"Please choose a delivery zone.", "يرجى اختيار منطقة التوصيل."},
	ReasonNameRequired:       {"Please enter your name.", "يرجى إدخال اسمك."},
	ReasonPhoneRequired:      {"Please enter your phone number.", "يرجى إدخال رقم هاتفك."},
	ReasonPhoneInvalid:       {"Please enter a valid phone number.", "يرجى إدخال رقم هاتف صحيح."},
	ReasonPaymentRequired:    {"Please choose a payment method.", "يرجى اختيار طريقة الدفع."},
	ReasonSavedMethodMissing: {"Please choose a saved card.", "يرجى اختيار بطاقة محفوظة."},
	ReasonSlotRequired:       {"Please choose a delivery time.", "يرجى اختيار موعد التوصيل."},
	ReasonOffline:            {"You are offline. Connect to place your order.", "أنت غير متصل. اتصل بالإنترنت لإتمام طلبك."},
	ReasonGuestCoupon:        {"Sign in to use coupons.", "سجّل الدخول لاستخدام القسائم."},
	ReasonCouponRequired:     {"Please enter a coupon code.", "يرجى إدخال رمز القسيمة."},
}

var (
	catalogOnce sync.Once
	msgCatalog  *catalog.Builder
	matcher     language.Matcher
	supported   = []language.Tag{language.English, language.Arabic}
)

func buildCatalog() {
	msgCatalog = catalog.NewBuilder(catalog.Fallback(language.English))
	for key, t := range translations {
		// SetString only fails on malformed tags; both tags are constants.
		_ = msgCatalog.SetString(language.English, key, t[0])
		_ = msgCatalog.SetString(language.Arabic, key, t[1])
	}
	matcher = language.NewMatcher(supported)
}

// MatchLocale returns the supported language closest to locale
// (a BCP 47 tag or Accept-Language style value). Unknown locales match English.
func MatchLocale(locale string) language.Tag {
	catalogOnce.Do(buildCatalog)
	_, idx, _ := matcher.Match(language.Make(locale))
	return supported[idx]
}

// UserMessage returns the localized, user-facing message for err.
//
// Backend codes and validation reasons with a catalog entry map to their
// translation; everything else falls back to a message for the error kind, or
// a generic message. Raw transport text is never returned. Race-discarded
// errors yield "" since they are never shown.
func UserMessage(err error, locale string) string {
	n := Normalize(err)
	if n == nil || n.Kind == KindRaceDiscarded {
		return ""
	}

	p := message.NewPrinter(MatchLocale(locale), message.Catalog(msgCatalog))
	return p.Sprintf(messageKey(err, n))
}

func messageKey(err error, n *Error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) && len(vErr.Fields) > 0 {
		if _, ok := translations[vErr.Fields[0].Reason]; ok {
			return vErr.Fields[0].Reason
		}
	}
	if _, ok := translations[n.Code]; ok && n.Code != "" {
		return n.Code
	}
	switch n.Kind {
	case KindNetwork:
		return msgNetwork
	case KindTimeout:
		return msgTimeout
	case KindAuth:
		return msgAuth
	}
	return msgGeneric
}
