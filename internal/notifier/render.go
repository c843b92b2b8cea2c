package notifier

import (
	"context"
	"strconv"

	"slotbot/internal/slot"
	"slotbot/internal/storage"
	"slotbot/pkg/tgui"
)

// locationName resolves a display name: catalog, then the upstream label, then the id.
func locationName(ctx context.Context, locs storage.Locations, o slot.Offer) string {
	if locs != nil {
		if n, ok, err := locs.LocationName(ctx, o.LocationID); err == nil && ok && n != "" {
			return n
		}
	}
	if o.LocationName != "" {
		return o.LocationName
	}
	return "склад #" + strconv.FormatInt(o.LocationID, 10)
}

// RenderAlert builds the HTML alert body.
func RenderAlert(o slot.Offer, location string) string {
	return tgui.JoinH("\n",
		tgui.B("✅ Найден слот для поставки")+"\n",
		tgui.Field("📅 Дата:", o.Date.UTC().Format("02.01.2006")),
		tgui.Field("🏬 Склад:", location),
		tgui.Field("📦 Тип:", o.Category.Name()),
		tgui.Esc("💰 Коэффициент: ")+tgui.Code(strconv.FormatFloat(o.Coefficient, 'f', -1, 64)),
	).String()
}
