package pricing

import (
	"context"
	"errors"

	"giftshop-service/internal/apperr"
	"giftshop-service/internal/models"
	"giftshop-service/internal/store"

	"github.com/shopspring/decimal"
)

// LineItem is a (product, quantity) pair supplied by the caller. Any price
// the caller may have sent alongside is ignored; unit prices are always
// resolved from the store at computation time.
type LineItem struct {
	ProductID string
	Quantity  int
}

// PricedItem carries the resolved unit price for one line item.
type PricedItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Quote is the result of pricing an order.
type Quote struct {
	Items    []PricedItem
	GiftCard *models.GiftCard
	Total    decimal.Decimal
}

// ComputeTotal resolves current unit prices for each line item and the
// optional gift card, and returns the order total. It must be called with the
// same store scope (transaction) that persists the order so prices are frozen
// at the instant of creation.
func ComputeTotal(ctx context.Context, s store.Store, items []LineItem, giftCardID *string) (*Quote, error) {
	quote := &Quote{Total: decimal.Zero}

	for _, item := range items {
		if item.ProductID == "" || item.Quantity < 1 {
			return nil, apperr.Validation("invalid product or quantity")
		}

		product, err := s.GetProductByID(ctx, item.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("product with ID %s not found", item.ProductID)
		}
		if err != nil {
			return nil, err
		}

		quote.Items = append(quote.Items, PricedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		quote.Total = quote.Total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if giftCardID != nil && *giftCardID != "" {
		card, err := s.GetGiftCardByID(ctx, *giftCardID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("gift card with ID %s not found", *giftCardID)
		}
		if err != nil {
			return nil, err
		}
		quote.GiftCard = card
		quote.Total = quote.Total.Add(card.Price)
	}

	return quote, nil
}

// MinorUnits converts a decimal amount to provider minor units (cents),
// rounding half away from zero. Sub-cent totals are ambiguous upstream; the
// rounding mode is pinned here so it never drifts between call sites.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
