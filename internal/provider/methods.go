package provider

import "fmt"

// MethodDescriptor describes one payment method offered through the gateway.
// A single generic Provider is parameterized by descriptor; there is one
// descriptor table, not one type per method.
type MethodDescriptor struct {
	// Method is the gateway's method code, passed in the hosted-link filter.
	Method string
	// Name is the operator-facing display name.
	Name string
}

// EnablementKey is the per-event settings flag that switches the method on.
func (d MethodDescriptor) EnablementKey() string {
	return "method_" + d.Method
}

// Identifier returns the provider identifier for a brand/method pair,
// e.g. "quickpay_creditcard".
func Identifier(brand, method string) string {
	return fmt.Sprintf("%s_%s", brand, method)
}

// Methods is the full descriptor table supported by the gateway.
var Methods = []MethodDescriptor{
	{Method: "creditcard", Name: "Credit card"},
	{Method: "american-express", Name: "Credit card: American Express"},
	{Method: "dankort", Name: "Credit card: Dankort"},
	{Method: "diners", Name: "Credit card: Diners Club"},
	{Method: "jcb", Name: "Credit card: JCB"},
	{Method: "maestro", Name: "Credit card: Maestro"},
	{Method: "mastercard", Name: "Credit card: Mastercard"},
	{Method: "mastercard-debet", Name: "Debit card: Mastercard"},
	{Method: "visa", Name: "Credit card: Visa"},
	{Method: "visa-electron", Name: "Debit card: Visa"},
	{Method: "fbg1886", Name: "Forbrugsforeningen af 1886"},
	{Method: "apple-pay", Name: "Apple Pay"},
	{Method: "google-pay", Name: "Google Pay"},
	{Method: "anyday-split", Name: "ANYDAY Split"},
	{Method: "mobilepay", Name: "MobilePay online"},
	{Method: "mobilepay-subscriptions", Name: "MobilePay Subscriptions"},
	{Method: "paypal", Name: "PayPal"},
	{Method: "sofort", Name: "Sofort"},
	{Method: "viabill", Name: "ViaBill"},
	{Method: "resurs", Name: "Resurs Bank"},
	{Method: "klarna-payments", Name: "Klarna Payments"},
	{Method: "bitcoin", Name: "Bitcoin through Coinify"},
	{Method: "swish", Name: "Swish"},
	{Method: "trustly", Name: "Trustly"},
	{Method: "ideal", Name: "iDEAL"},
	{Method: "vipps", Name: "Vipps"},
	{Method: "paysafecard", Name: "Paysafecard"},
	{Method: "unzer-pay-later-invoice", Name: "Unzer Pay Later Invoice"},
}

// brandMethods restricts which methods a brand integration supports. A brand
// missing from this map supports the full table.
var brandMethods = map[string][]string{
	"unzer": {
		"creditcard", "fbg1886", "mobilepay", "mobilepay-subscriptions",
		"paypal", "sofort", "viabill", "resurs", "klarna-payments", "bitcoin",
		"swish", "trustly", "ideal", "vipps", "paysafecard",
	},
	"unzerdirect": {
		"creditcard", "fbg1886", "mobilepay", "paypal", "sofort", "viabill",
		"resurs", "klarna-payments", "bitcoin", "swish", "trustly", "ideal",
		"vipps", "paysafecard",
	},
}

// Registry resolves provider identifiers to method descriptors for one brand.
type Registry struct {
	brand        string
	byIdentifier map[string]MethodDescriptor
}

// NewRegistry builds the registry for a brand, applying the brand's method
// restriction if one exists.
func NewRegistry(brand string) *Registry {
	allowed := map[string]bool{}
	if subset, ok := brandMethods[brand]; ok {
		for _, m := range subset {
			allowed[m] = true
		}
	}

	r := &Registry{brand: brand, byIdentifier: make(map[string]MethodDescriptor)}
	for _, d := range Methods {
		if len(allowed) > 0 && !allowed[d.Method] {
			continue
		}
		r.byIdentifier[Identifier(brand, d.Method)] = d
	}
	return r
}

// Resolve looks up the descriptor for a provider identifier.
func (r *Registry) Resolve(identifier string) (MethodDescriptor, bool) {
	d, ok := r.byIdentifier[identifier]
	return d, ok
}

// Descriptors returns all descriptors the brand supports.
func (r *Registry) Descriptors() []MethodDescriptor {
	out := make([]MethodDescriptor, 0, len(r.byIdentifier))
	for _, d := range Methods {
		if _, ok := r.byIdentifier[Identifier(r.brand, d.Method)]; ok {
			out = append(out, d)
		}
	}
	return out
}
