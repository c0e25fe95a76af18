package integration

import "errors"

var (
	ErrDataSourceUnavailable = errors.New("integration: data source temporarily unavailable")
	ErrStreamClosed          = errors.New("integration: realtime stream closed")
	ErrSyncUnavailable       = errors.New("integration: marketplace sync temporarily unavailable")
	ErrSyncRequestFailed     = errors.New("integration: marketplace sync request failed")
	ErrInvalidSelector       = errors.New("integration: invalid sync selector")
	ErrLabelUnavailable      = errors.New("integration: label storage unavailable")
	ErrUnknownRowSource      = errors.New("integration: unknown row source")
)

// Marketplace is the code of a supported marketplace
type Marketplace string

const (
	MarketplaceMercadoLivre Marketplace = "mercado_livre"
	MarketplaceShopee       Marketplace = "shopee"
	MarketplaceAmazon       Marketplace = "amazon"
	MarketplaceMagalu       Marketplace = "magalu"
)

// IsValid returns true if the marketplace code is known
func (m Marketplace) IsValid() bool {
	switch m {
	case MarketplaceMercadoLivre, MarketplaceShopee, MarketplaceAmazon, MarketplaceMagalu:
		return true
	default:
		return false
	}
}

// String returns the string representation
func (m Marketplace) String() string {
	return string(m)
}

// DisplayName returns the human-readable name
func (m Marketplace) DisplayName() string {
	switch m {
	case MarketplaceMercadoLivre:
		return "Mercado Livre"
	case MarketplaceShopee:
		return "Shopee"
	case MarketplaceAmazon:
		return "Amazon"
	case MarketplaceMagalu:
		return "Magalu"
	default:
		return string(m)
	}
}
