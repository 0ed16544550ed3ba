package checkout

// Volume discount ladder for custom credit amounts. The top tier is the
// hard cap; no tier may exceed it.
const maxVolumeDiscountPct = 40

var volumeTiers = []struct {
	minCredits int64
	pct        int64
}{
	{10000, 40},
	{5000, 30},
	{2500, 25},
	{1000, 20},
	{500, 10},
	{100, 5},
}

// One-time retention offer discount. Mutually exclusive with the loyalty
// ladder for a given request.
const retentionDiscountPct = 50

// Quote is a priced checkout before it is sent to the payment provider.
// Discounts apply multiplicatively to the running total, rounded to the
// nearest cent at each step.
type Quote struct {
	Credits            int64 `json:"credits"`
	BaseCents          int64 `json:"base_cents"`
	VolumeDiscountPct  int64 `json:"volume_discount_pct"`
	LoyaltyDiscountPct int64 `json:"loyalty_discount_pct"`
	RetentionApplied   bool  `json:"retention_applied"`
	TotalCents         int64 `json:"total_cents"`
}

// VolumeDiscountPct returns the ladder percentage for a credit amount.
func VolumeDiscountPct(credits int64) int64 {
	for _, tier := range volumeTiers {
		if credits >= tier.minCredits {
			if tier.pct > maxVolumeDiscountPct {
				return maxVolumeDiscountPct
			}
			return tier.pct
		}
	}
	return 0
}

// LoyaltyDiscountPct returns the returning-customer percentage. The ladder
// rewards early repeat purchases and tapers off: the first repeat purchase
// gets 30%, the second 20%, the third 10%, nothing after that.
func LoyaltyDiscountPct(purchaseCount int) int64 {
	switch purchaseCount {
	case 1:
		return 30
	case 2:
		return 20
	case 3:
		return 10
	default:
		return 0
	}
}

// PriceCustom quotes a custom credit amount at the per-credit base rate
// with the full discount stack.
func PriceCustom(credits, baseCentsPerCredit int64, purchaseCount int, retention bool) Quote {
	base := credits * baseCentsPerCredit
	return price(credits, base, VolumeDiscountPct(credits), purchaseCount, retention)
}

// PricePackage quotes a curated package. The package price already encodes
// its volume discount, so only the loyalty or retention step applies.
func PricePackage(credits, packagePriceCents int64, purchaseCount int, retention bool) Quote {
	return price(credits, packagePriceCents, 0, purchaseCount, retention)
}

func price(credits, baseCents, volumePct int64, purchaseCount int, retention bool) Quote {
	q := Quote{
		Credits:           credits,
		BaseCents:         baseCents,
		VolumeDiscountPct: volumePct,
		RetentionApplied:  retention,
	}

	total := applyPct(baseCents, volumePct)
	if retention {
		total = applyPct(total, retentionDiscountPct)
	} else {
		q.LoyaltyDiscountPct = LoyaltyDiscountPct(purchaseCount)
		total = applyPct(total, q.LoyaltyDiscountPct)
	}
	q.TotalCents = total
	return q
}

func applyPct(cents, pct int64) int64 {
	if pct <= 0 {
		return cents
	}
	return (cents*(100-pct) + 50) / 100
}
