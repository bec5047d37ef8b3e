package classify

// Variant is one priced option of a multi-variant promotion.
type Variant struct {
	Label string `json:"label"`
	Price string `json:"price"`
}

// Result is the classifier output. Immutable once returned; NeedsApproval
// routes low-confidence results to manual review instead of auto-publishing.
type Result struct {
	Title           string    `json:"title"`
	Price           string    `json:"price"`
	Coupon          string    `json:"coupon"`
	Variants        []Variant `json:"variants"`
	Category        string    `json:"category"`
	Confidence      int       `json:"confidence"`
	IsCouponMessage bool      `json:"is_coupon"`
	NeedsApproval   bool      `json:"-"`
}
