package fulfillment

// statusVocabulary maps folded internal statuses, in Portuguese and English, to buckets
var statusVocabulary = map[string]Bucket{
	"a vincular":          BucketUnlinked,
	"vincular":            BucketUnlinked,
	"sem vinculo":         BucketUnlinked,
	"pendente de vinculo": BucketUnlinked,
	"unlinked":            BucketUnlinked,

	"emissao nf":      BucketInvoicePending,
	"emissao de nf":   BucketInvoicePending,
	"emitir nf":       BucketInvoicePending,
	"nf pendente":     BucketInvoicePending,
	"aguardando nf":   BucketInvoicePending,
	"a faturar":       BucketInvoicePending,
	"invoice pending": BucketInvoicePending,

	"impressao":      BucketPrinting,
	"a imprimir":     BucketPrinting,
	"imprimir":       BucketPrinting,
	"printing":       BucketPrinting,
	"to print":       BucketPrinting,
	"ready to print": BucketPrinting,

	"aguardando coleta":   BucketAwaitingPickup,
	"aguardando retirada": BucketAwaitingPickup,
	"pronto para envio":   BucketAwaitingPickup,
	"awaiting pickup":     BucketAwaitingPickup,
	"ready to ship":       BucketAwaitingPickup,

	"enviado":     BucketShipped,
	"em transito": BucketShipped,
	"entregue":    BucketShipped,
	"shipped":     BucketShipped,
	"in transit":  BucketShipped,
	"delivered":   BucketShipped,

	"cancelado": BucketCancelled,
	"cancelada": BucketCancelled,
	"devolucao": BucketCancelled,
	"devolvido": BucketCancelled,
	"devolvida": BucketCancelled,
	"cancelled": BucketCancelled,
	"canceled":  BucketCancelled,
	"returned":  BucketCancelled,
}

// ClassifyStatus maps a raw internal status to its bucket. Unknown or empty
// statuses return BucketUnknown.
func ClassifyStatus(statusInternal string) Bucket {
	if b, ok := statusVocabulary[Fold(statusInternal)]; ok {
		return b
	}
	return BucketUnknown
}

// Classify returns the bucket of an order. It depends only on StatusInternal.
func Classify(o *Order) Bucket {
	return ClassifyStatus(o.StatusInternal)
}

// Matches reports whether an order belongs to the requested bucket selector.
// All matches everything; a specific bucket never matches an unknown status.
func Matches(o *Order, requested Bucket) bool {
	if requested == BucketAll {
		return true
	}
	b := Classify(o)
	return b != BucketUnknown && b == requested
}

// DisplayStatus derives the label shown to users. A delivered shipment reads
// "Delivered" while staying in its bucket.
func DisplayStatus(o *Order) string {
	if Fold(o.Shipment.Status) == "delivered" {
		return "Delivered"
	}
	b := Classify(o)
	if b == BucketUnknown && o.StatusInternal != "" {
		return o.StatusInternal
	}
	return b.DisplayName()
}
