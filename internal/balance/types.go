package balance

// RawBalance is the wire shape returned by the balance endpoint.
// All amounts are in the account currency.
type RawBalance struct {
	Balance             float64 `json:"balance"`
	PayAsYouGoBalance   float64 `json:"pay_as_you_go_balance"`
	SubscriptionBalance float64 `json:"subscription_balance"`
	TotalBalance        float64 `json:"total_balance"`
}
