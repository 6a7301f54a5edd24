package service

import (
	"context"
	"fmt"

	"toystore/internal/apperr"
	"toystore/internal/models"
	"toystore/internal/redisclient"
	"toystore/internal/store"
	"toystore/internal/util"

	"go.uber.org/zap"
)

// CartService owns the pre-order basket. Stock checks read live inventory —
// a cart item is not a reservation; races against checkout are accepted and
// resolved inside the order-creation transaction.
type CartService struct {
	store      *store.Store
	redis      *redisclient.Client
	taxPercent int64
	logger     *zap.Logger
}

// NewCartService creates a cart service.
func NewCartService(store *store.Store, redis *redisclient.Client, taxPercent int64) *CartService {
	return &CartService{
		store:      store,
		redis:      redis,
		taxPercent: taxPercent,
		logger:     util.GetLogger(),
	}
}

// CartLine is a cart item joined with its live product data.
type CartLine struct {
	Item      models.CartItem `json:"item"`
	Name      string          `json:"name"`
	UnitPrice int64           `json:"unit_price"`
	LineTotal int64           `json:"line_total"`
}

// CartView is a cart with derived totals (paise).
type CartView struct {
	Cart      models.Cart `json:"cart"`
	Lines     []CartLine  `json:"lines"`
	Subtotal  int64       `json:"subtotal"`
	TaxAmount int64       `json:"tax_amount"`
	Total     int64       `json:"total"`
}

// GetCart returns the user's cart, creating it lazily on first access.
func (cs *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	cart, err := cs.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	items, err := cs.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	view := &CartView{Cart: *cart, Lines: make([]CartLine, 0, len(items))}
	for _, item := range items {
		name, price, err := cs.livePricing(ctx, item)
		if err != nil {
			return nil, err
		}
		line := CartLine{
			Item:      item,
			Name:      name,
			UnitPrice: price,
			LineTotal: price * int64(item.Quantity),
		}
		view.Subtotal += line.LineTotal
		view.Lines = append(view.Lines, line)
	}

	view.TaxAmount = roundHalfUpPercent(view.Subtotal, cs.taxPercent)
	view.Total = view.Subtotal + view.TaxAmount
	return view, nil
}

// AddItem adds quantity of a product (or variant) to the user's cart.
// Re-adding an existing product/variant pair merges into the existing line,
// with the merged quantity re-checked against current stock.
func (cs *CartService) AddItem(ctx context.Context, userID, productID, variantID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}

	cart, err := cs.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := cs.store.GetCartItem(ctx, cart.ID, productID, variantID)
	if err != nil {
		return nil, err
	}

	wanted := quantity
	if existing != nil {
		wanted += existing.Quantity
	}
	if err := cs.checkStock(ctx, productID, variantID, wanted); err != nil {
		return nil, err
	}

	if existing != nil {
		// Same product/variant pair: merge into the existing line.
		if err := cs.store.SetCartItemQuantity(ctx, existing.ID, wanted); err != nil {
			return nil, fmt.Errorf("failed to merge cart item: %w", err)
		}
	} else {
		item := &models.CartItem{
			CartID:    cart.ID,
			ProductID: productID,
			Quantity:  quantity,
		}
		if variantID != 0 {
			item.VariantID.Int64 = variantID
			item.VariantID.Valid = true
		}
		if err := cs.store.CreateCartItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to add cart item: %w", err)
		}
	}

	cs.logger.Info("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", wanted))

	return cs.GetCart(ctx, userID)
}

// UpdateItem replaces a line's quantity, re-checked against current stock.
func (cs *CartService) UpdateItem(ctx context.Context, userID, itemID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}

	item, err := cs.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	if err := cs.checkStock(ctx, item.ProductID, item.VariantID.Int64, quantity); err != nil {
		return nil, err
	}

	if err := cs.store.SetCartItemQuantity(ctx, item.ID, quantity); err != nil {
		return nil, err
	}
	return cs.GetCart(ctx, userID)
}

// RemoveItem destroys a cart line.
func (cs *CartService) RemoveItem(ctx context.Context, userID, itemID int64) (*CartView, error) {
	item, err := cs.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if err := cs.store.DeleteCartItem(ctx, item.ID); err != nil {
		return nil, err
	}
	return cs.GetCart(ctx, userID)
}

// Clear removes every line from the user's cart.
func (cs *CartService) Clear(ctx context.Context, userID int64) error {
	cart, err := cs.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return err
	}
	return cs.store.ClearCart(ctx, cart.ID)
}

// WarmStockCache seeds the Redis stock cache from the database at boot so
// the first wave of cart traffic skips the fallback path.
func (cs *CartService) WarmStockCache(ctx context.Context) error {
	cs.logger.Info("Warming stock cache")

	products, err := cs.store.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}

	for _, product := range products {
		if err := cs.redis.SetCachedStock(ctx, product.ID, 0, product.Stock); err != nil {
			cs.logger.Warn("Failed to seed stock cache",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			continue
		}

		variants, err := cs.store.GetVariantsByProductID(ctx, product.ID)
		if err != nil {
			cs.logger.Warn("Failed to load variants",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			continue
		}
		for _, variant := range variants {
			if !variant.Active {
				continue
			}
			if err := cs.redis.SetCachedStock(ctx, product.ID, variant.ID, variant.Stock); err != nil {
				cs.logger.Warn("Failed to seed variant stock cache",
					zap.Int64("variant_id", variant.ID),
					zap.Error(err))
			}
		}
	}

	cs.logger.Info("Stock cache warmed", zap.Int("products", len(products)))
	return nil
}

// checkStock validates wanted quantity against live stock, consulting the
// Redis cache first and falling back to the database on a miss or error.
func (cs *CartService) checkStock(ctx context.Context, productID, variantID int64, wanted int) error {
	available, hit, err := cs.redis.GetCachedStock(ctx, productID, variantID)
	if err != nil {
		cs.logger.Warn("Stock cache read failed, falling back to DB",
			zap.Int64("product_id", productID),
			zap.Error(err))
		hit = false
	}

	if !hit {
		available, err = cs.store.StockOf(ctx, productID, variantID)
		if err != nil {
			return err
		}
		if cacheErr := cs.redis.SetCachedStock(ctx, productID, variantID, available); cacheErr != nil {
			cs.logger.Warn("Failed to cache stock figure", zap.Error(cacheErr))
		}
	}

	if wanted > available {
		return apperr.Validation("insufficient stock: available=%d, requested=%d", available, wanted)
	}
	return nil
}

func (cs *CartService) livePricing(ctx context.Context, item models.CartItem) (string, int64, error) {
	product, err := cs.store.GetProductByID(ctx, item.ProductID)
	if err != nil {
		return "", 0, err
	}
	if item.VariantID.Valid {
		variant, err := cs.store.GetVariantByID(ctx, item.VariantID.Int64)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("%s (%s)", product.Name, variant.Name), variant.Price, nil
	}
	return product.Name, product.Price, nil
}

func (cs *CartService) ownedItem(ctx context.Context, userID, itemID int64) (*models.CartItem, error) {
	cart, err := cs.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := cs.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], nil
		}
	}
	return nil, apperr.NotFound("cart item not found: %d", itemID)
}
