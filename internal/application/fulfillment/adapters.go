package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/integration"
)

// RowAdapter converts one source schema into the canonical order
type RowAdapter interface {
	Source() integration.RowSource
	Adapt(row integration.RawRow, loc *time.Location) (*fulfillment.Order, error)
}

func linkedProducts(raw []integration.RawLinkedProduct) []fulfillment.LinkedProduct {
	if len(raw) == 0 {
		return nil
	}
	out := make([]fulfillment.LinkedProduct, 0, len(raw))
	for _, lp := range raw {
		out = append(out, fulfillment.LinkedProduct{
			MarketplaceItemID: lp.ItemID,
			VariationID:       lp.VariationID,
			SKU:               lp.SKU,
		})
	}
	return out
}

func sumItems(items []fulfillment.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Total())
	}
	return total
}

// ---------------------------------------------------------------------------
// Unified view
// ---------------------------------------------------------------------------

type unifiedAdapter struct{}

func (unifiedAdapter) Source() integration.RowSource { return integration.SourceUnified }

func (unifiedAdapter) Adapt(raw integration.RawRow, loc *time.Location) (*fulfillment.Order, error) {
	row, ok := raw.(*integration.UnifiedRow)
	if !ok {
		return nil, fmt.Errorf("unified adapter got %T", raw)
	}

	approvedAt, err := toTime(row.PaymentApprovedAt, loc)
	if err != nil {
		return nil, fmt.Errorf("payment_approved_at: %w", err)
	}
	slaAt, err := toTime(row.SLAExpectedAt, loc)
	if err != nil {
		return nil, fmt.Errorf("sla_expected_date: %w", err)
	}
	createdAt, err := toTime(row.CreatedAt, loc)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := toTime(row.UpdatedAt, loc)
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	fetchedAt, _ := toTime(row.LabelFetchedAt, loc)

	items := make([]fulfillment.OrderItem, 0, len(row.Items))
	for _, it := range row.Items {
		qty := toDecimal(it.Quantity)
		items = append(items, fulfillment.OrderItem{
			MarketplaceItemID: it.ItemID,
			VariationID:       it.VariationID,
			SKU:               it.SKU,
			Name:              it.Title,
			Quantity:          qty,
			UnitPrice:         unitPrice(it.UnitPrice, it.Amount, qty),
			ImageRef:          it.ImageURL,
		})
	}

	gross := toDecimal(row.GrossItemsValue)
	if gross.IsZero() {
		gross = sumItems(items)
	}

	o := &fulfillment.Order{
		ID:                 row.ID,
		MarketplaceOrderID: row.MarketplaceOrderID,
		Marketplace:        strings.ToLower(strings.TrimSpace(row.Marketplace)),
		CustomerName:       row.CustomerName,
		StatusInternal:     row.StatusInternal,
		PaymentStatus:      row.PaymentStatus,
		PaymentApprovedAt:  approvedAt,
		Shipment: fulfillment.Shipment{
			Status:        row.ShipmentStatus,
			SubStatus:     row.ShipmentSubStatus,
			SLAStatus:     row.SLAStatus,
			SLAExpectedAt: slaAt,
			Method:        row.ShippingMethod,
			Type:          fulfillment.NormalizeShippingType(row.ShippingType),
		},
		Items: items,
		Financial: fulfillment.Financial{
			GrossItemsValue:  gross,
			OrderTotal:       toDecimal(row.OrderTotal),
			ShippingReceived: toDecimal(row.ShippingReceived),
			ShippingCost:     toDecimal(row.ShippingCost),
			MarketplaceFee:   toDecimal(row.MarketplaceFee),
			Taxes:            toDecimal(row.Taxes),
			ProductCost:      toDecimal(row.ProductCost),
			OtherCosts:       toDecimal(row.OtherCosts),
			Coupon:           toDecimal(row.Coupon),
		},
		Label: fulfillment.Label{
			Cached:      cast.ToBool(row.LabelCached),
			ContentRef:  row.LabelContentRef,
			ContentType: row.LabelContentType,
			FetchedAt:   fetchedAt,
		},
		LinkedProducts: linkedProducts(row.LinkedProducts),
		InvoiceState:   row.InvoiceState,
		CreatedAt:      timeOrZero(createdAt),
		UpdatedAt:      timeOrZero(updatedAt),
	}
	return o, nil
}

// ---------------------------------------------------------------------------
// Mercado Livre
// ---------------------------------------------------------------------------

type mercadoLivreAdapter struct{}

func (mercadoLivreAdapter) Source() integration.RowSource { return integration.SourceMercadoLivre }

func (mercadoLivreAdapter) Adapt(raw integration.RawRow, loc *time.Location) (*fulfillment.Order, error) {
	row, ok := raw.(*integration.MercadoLivreRow)
	if !ok {
		return nil, fmt.Errorf("mercado livre adapter got %T", raw)
	}

	createdAt, err := toTime(row.DateCreated, loc)
	if err != nil {
		return nil, fmt.Errorf("date_created: %w", err)
	}
	updatedAt, err := toTime(row.LastUpdated, loc)
	if err != nil {
		return nil, fmt.Errorf("last_updated: %w", err)
	}
	approvedAt, _ := toTime(row.DateApproved, loc)
	slaAt, _ := toTime(row.SLAExpectedDate, loc)

	items := make([]fulfillment.OrderItem, 0, len(row.Items))
	for _, it := range row.Items {
		qty := toDecimal(it.Quantity)
		items = append(items, fulfillment.OrderItem{
			MarketplaceItemID: it.ItemID,
			VariationID:       identifier(it.VariationID),
			SKU:               it.SellerSKU,
			Name:              it.Title,
			Quantity:          qty,
			UnitPrice:         unitPrice(it.UnitPrice, nil, qty),
			ImageRef:          it.Thumbnail,
		})
	}

	// logistic_type carries fulfillment/self_service/cross_docking/drop_off,
	// shipping_mode carries me2/custom when no logistic type is set
	shippingType := fulfillment.NormalizeShippingType(row.LogisticType)
	if shippingType == fulfillment.ShippingOther && row.ShippingMode != "" {
		shippingType = fulfillment.NormalizeShippingType(row.ShippingMode)
	}

	customer := row.BuyerName
	if customer == "" {
		customer = row.BuyerNickname
	}

	gross := sumItems(items)
	if gross.IsZero() {
		gross = toDecimal(row.TotalAmount)
	}
	total := toDecimal(row.PaidAmount)
	if total.IsZero() {
		total = toDecimal(row.TotalAmount)
	}

	id := identifier(row.OrderID)
	return &fulfillment.Order{
		ID:                 id,
		MarketplaceOrderID: id,
		Marketplace:        string(integration.MarketplaceMercadoLivre),
		CustomerName:       customer,
		StatusInternal:     row.StatusInternal,
		PaymentStatus:      row.PaymentStatus,
		PaymentApprovedAt:  approvedAt,
		Shipment: fulfillment.Shipment{
			Status:        row.ShippingStatus,
			SubStatus:     row.ShippingSubstatus,
			SLAStatus:     row.SLAStatus,
			SLAExpectedAt: slaAt,
			Method:        row.ShippingMode,
			Type:          shippingType,
		},
		Items: items,
		Financial: fulfillment.Financial{
			GrossItemsValue:  gross,
			OrderTotal:       total,
			ShippingReceived: toDecimal(row.ShippingReceived),
			ShippingCost:     toDecimal(row.ShippingCost),
			MarketplaceFee:   toDecimal(row.SaleFee),
			Taxes:            toDecimal(row.Taxes),
			ProductCost:      toDecimal(row.ProductCost),
			Coupon:           toDecimal(row.Coupon),
		},
		LinkedProducts: linkedProducts(row.LinkedProducts),
		CreatedAt:      timeOrZero(createdAt),
		UpdatedAt:      timeOrZero(updatedAt),
	}, nil
}

// ---------------------------------------------------------------------------
// Shopee
// ---------------------------------------------------------------------------

const shopeeFulfilledByShopee = "fulfilled_by_shopee"

type shopeeAdapter struct{}

func (shopeeAdapter) Source() integration.RowSource { return integration.SourceShopee }

func (shopeeAdapter) Adapt(raw integration.RawRow, loc *time.Location) (*fulfillment.Order, error) {
	row, ok := raw.(*integration.ShopeeRow)
	if !ok {
		return nil, fmt.Errorf("shopee adapter got %T", raw)
	}

	createdAt, err := toTime(row.CreateTime, loc)
	if err != nil {
		return nil, fmt.Errorf("create_time: %w", err)
	}
	updatedAt, err := toTime(row.UpdateTime, loc)
	if err != nil {
		return nil, fmt.Errorf("update_time: %w", err)
	}
	paidAt, _ := toTime(row.PayTime, loc)
	shipBy, _ := toTime(row.ShipByDate, loc)

	items := make([]fulfillment.OrderItem, 0, len(row.Items))
	for _, it := range row.Items {
		qty := toDecimal(it.Quantity)
		sku := it.ModelSKU
		if sku == "" {
			sku = it.ItemSKU
		}
		items = append(items, fulfillment.OrderItem{
			MarketplaceItemID: identifier(it.ItemID),
			VariationID:       identifier(it.ModelID),
			SKU:               sku,
			Name:              it.ItemName,
			Quantity:          qty,
			UnitPrice:         unitPrice(it.DiscountedPrice, nil, qty),
			ImageRef:          it.ImageURL,
		})
	}

	shippingType := fulfillment.NormalizeShippingType(row.ShippingCarrier)
	if row.FulfillmentFlag == shopeeFulfilledByShopee {
		shippingType = fulfillment.ShippingFull
	}

	paymentStatus := "pending"
	if paidAt != nil {
		paymentStatus = "approved"
	}

	gross := sumItems(items)
	if gross.IsZero() {
		gross = toDecimal(row.TotalAmount)
	}

	return &fulfillment.Order{
		ID:                 row.OrderSN,
		MarketplaceOrderID: row.OrderSN,
		Marketplace:        string(integration.MarketplaceShopee),
		CustomerName:       row.BuyerUsername,
		StatusInternal:     row.StatusInternal,
		PaymentStatus:      paymentStatus,
		PaymentApprovedAt:  paidAt,
		Shipment: fulfillment.Shipment{
			Status:        row.LogisticsStatus,
			SubStatus:     row.OrderStatus,
			SLAExpectedAt: shipBy,
			Method:        row.ShippingCarrier,
			Type:          shippingType,
		},
		Items: items,
		Financial: fulfillment.Financial{
			GrossItemsValue:  gross,
			OrderTotal:       toDecimal(row.TotalAmount),
			ShippingReceived: toDecimal(row.EstimatedShippingFee),
			ShippingCost:     toDecimal(row.ActualShippingFee),
			MarketplaceFee:   toDecimal(row.CommissionFee).Add(toDecimal(row.ServiceFee)),
			Coupon:           toDecimal(row.Voucher),
		},
		LinkedProducts: linkedProducts(row.LinkedProducts),
		CreatedAt:      timeOrZero(createdAt),
		UpdatedAt:      timeOrZero(updatedAt),
	}, nil
}
