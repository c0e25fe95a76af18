package fulfillment

// ResolveLinkage finds the inventory link for a marketplace item. Precedence is
// fixed: exact (item id, variation id) match, then item id alone, then the
// first linked entry.
func ResolveLinkage(itemID, variationID string, linked []LinkedProduct) (LinkedProduct, bool) {
	if len(linked) == 0 {
		return LinkedProduct{}, false
	}
	if variationID != "" {
		for _, lp := range linked {
			if lp.MarketplaceItemID == itemID && lp.VariationID == variationID {
				return lp, true
			}
		}
	}
	for _, lp := range linked {
		if lp.MarketplaceItemID == itemID {
			return lp, true
		}
	}
	return linked[0], true
}

// LinkItems resolves the SKU of every item against the order's linked products
func LinkItems(o *Order) {
	for i := range o.Items {
		lp, ok := ResolveLinkage(o.Items[i].MarketplaceItemID, o.Items[i].VariationID, o.LinkedProducts)
		if !ok {
			continue
		}
		if lp.SKU != "" {
			o.Items[i].SKU = lp.SKU
		}
		o.Items[i].Linked = true
	}
}
