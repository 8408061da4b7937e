package orders

import (
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
)

const (
	msgCancelFull    = "cancel.full"
	msgCancelPartial = "cancel.partial"
	msgCancelNone    = "cancel.none"
)

var (
	outcomeOnce    sync.Once
	outcomeCatalog *catalog.Builder
)

func buildOutcomeCatalog() {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	_ = b.SetString(language.English, msgCancelFull, "Your order was canceled.")
	_ = b.SetString(language.English, msgCancelPartial, "%d of %d stores canceled your order. The rest are already preparing it.")
	_ = b.SetString(language.English, msgCancelNone, "This order can no longer be canceled.")
	_ = b.SetString(language.Arabic, msgCancelFull, "تم إلغاء طلبك.")
	_ = b.SetString(language.Arabic, msgCancelPartial, "ألغى %d من %d متاجر طلبك. المتاجر الأخرى بدأت تجهيزه بالفعل.")
	_ = b.SetString(language.Arabic, msgCancelNone, "لم يعد من الممكن إلغاء هذا الطلب.")
	outcomeCatalog = b
}

// Message returns the localized summary shown after a cancellation. Full,
// partial and failed cancellations each have their own message.
func (o *CancelOutcome) Message(locale string) string {
	outcomeOnce.Do(buildOutcomeCatalog)
	p := message.NewPrinter(apierr.MatchLocale(locale), message.Catalog(outcomeCatalog))

	switch o.Kind {
	case OutcomeFull:
		return p.Sprintf(msgCancelFull)
	case OutcomePartial:
		return p.Sprintf(msgCancelPartial, len(o.Cancelled), len(o.Cancelled)+len(o.Blocked))
	default:
		return p.Sprintf(msgCancelNone)
	}
}
