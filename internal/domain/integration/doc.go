// Package integration contains the Integration bounded context.
// It describes how orders enter the system from the marketplaces and which
// external collaborators the fulfillment core talks to.
//
// Key concepts:
//   - Marketplace: code of a supported marketplace
//   - RawRow: tagged union of the source schemas (unified view, Mercado Livre, Shopee)
//   - OrderEvent: realtime Insert/Update/Delete delivered by the data source
//   - DataSource, MarketplaceSync, LabelRenderer: ports for the external collaborators
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
