// Package store persists the operator-owned configuration document:
// credentials, the lot-to-game mapping, message templates, the auto-refund
// toggle, and completed-order history.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/scwee/autogift/core/gifts"
)

// Document mirrors the on-disk JSON config document.
type Document struct {
	APILogin    string                  `json:"api_login"`
	APIPassword string                  `json:"api_password"`
	AutoRefunds bool                    `json:"auto_refunds"`
	LotMapping  map[string]MappingEntry `json:"lot_game_mapping"`
	Templates   map[string]string       `json:"templates"`
	History     []HistoryRecord         `json:"order_history"`
}

// HistoryRecord is the persisted form of one completed dispatch.
// Field names match the legacy document for backward compatibility.
type HistoryRecord struct {
	OrderID   int64           `json:"order_id"`
	BuyerID   int64           `json:"buyer_id"`
	GameName  string          `json:"game_name"`
	Region    string          `json:"region"`
	Link      string          `json:"link"`
	Revenue   decimal.Decimal `json:"revenue"`
	Timestamp string          `json:"timestamp"`
}

// Product is the canonical mapping value after the legacy union is resolved.
type Product struct {
	Name   string
	Region gifts.Region
}

// MappingEntry tolerates the legacy schema where a mapping value is either a
// bare game name string (implying region "ru") or an object with name and
// region. The union is resolved here and never reaches business logic.
type MappingEntry struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

// UnmarshalJSON accepts both the string form and the object form.
func (e *MappingEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		e.Name = name
		e.Region = string(gifts.RegionRU)
		return nil
	}
	type plain MappingEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("lot mapping entry: %w", err)
	}
	*e = MappingEntry(p)
	return nil
}

// Product resolves the entry into its canonical form.
func (e MappingEntry) Product() Product {
	return Product{
		Name:   e.Name,
		Region: gifts.ParseRegion(e.Region),
	}
}

// Template names used by the conversation engine.
const (
	TplStart               = "start_message"
	TplInvalidLink         = "invalid_link"
	TplLinkConfirmation    = "link_confirmation"
	TplProcessing          = "processing"
	TplPurchaseSuccess     = "purchase_success"
	TplPurchaseError       = "purchase_error"
	TplInsufficientBalance = "insufficient_balance"
	TplCancelled           = "cancelled"
	TplConfirmPrompt       = "confirm_prompt"
)

func defaultTemplates() map[string]string {
	return map[string]string{
		TplStart:               "Спасибо за оплату!\n\nОтправьте ссылку на ваш Steam профиль:\nhttps://steamcommunity.com/id/ВАШ_ID\nили\nhttps://steamcommunity.com/profiles/76561198XXXXXXXXX",
		TplInvalidLink:         "❌ Неверная ссылка на Steam профиль.\n\nПравильный формат:\n• steamcommunity.com/id/ВАШ_ID\n• steamcommunity.com/profiles/76561198XXXXXXXXX",
		TplLinkConfirmation:    "Подтвердите ваш Steam профиль:\n{link}\n\nОтправьте + для подтверждения или - для отмены",
		TplProcessing:          "⏳ Отправляем {game_name}...",
		TplPurchaseSuccess:     "✅ Гифт \"{game_name}\" успешно отправлен!\n\n🎮 Проверьте подарки в Steam\n\nОставьте отзыв 😊",
		TplPurchaseError:       "❌ Ошибка отправки: {error}\n\nОбратитесь к продавцу",
		TplInsufficientBalance: "❌ Недостаточно средств для отправки гифта.\n\nОбратитесь к продавцу",
		TplCancelled:           "Отправка отменена. Отправьте новую ссылку.",
		TplConfirmPrompt:       "Отправьте + для подтверждения или - для отмены",
	}
}

func defaultDocument() Document {
	return Document{
		LotMapping: map[string]MappingEntry{},
		Templates:  defaultTemplates(),
		History:    []HistoryRecord{},
	}
}

// mergeDefaults fills keys the document lacks without touching operator edits.
func mergeDefaults(doc *Document) {
	if doc.LotMapping == nil {
		doc.LotMapping = map[string]MappingEntry{}
	}
	if doc.History == nil {
		doc.History = []HistoryRecord{}
	}
	if doc.Templates == nil {
		doc.Templates = map[string]string{}
	}
	for name, text := range defaultTemplates() {
		if _, ok := doc.Templates[name]; !ok {
			doc.Templates[name] = text
		}
	}
}
