package domain

import "strings"

// Event types sent by the gateway in type_event.
const (
	EventSaleComplete   = "sale_complete"
	EventSaleCanceled   = "sale_canceled"
	EventRefundComplete = "refund_complete"
	TransferEventPrefix = "transfer_"
)

// Notification is an inbound IPN payload. Every field keeps the exact text the
// gateway sent; amounts in particular are never parsed or reformatted because the
// signature is computed over the raw representation.
type Notification struct {
	TypeEvent       string
	RefCommand      string
	IDTransfer      string
	FinalItemPrice  string
	ItemPrice       string
	Amount          string
	AmountXOF       string
	HmacCompute     string
	APIKeySHA256    string
	APISecretSHA256 string
	Token           string
	PaymentMethod   string
	ClientPhone     string
	CustomField     string
}

// NotificationFromValues builds a Notification from any key lookup (form args, decoded JSON).
func NotificationFromValues(get func(key string) string) Notification {
	return Notification{
		TypeEvent:       get("type_event"),
		RefCommand:      get("ref_command"),
		IDTransfer:      get("id_transfer"),
		FinalItemPrice:  get("final_item_price"),
		ItemPrice:       get("item_price"),
		Amount:          get("amount"),
		AmountXOF:       get("amount_xof"),
		HmacCompute:     get("hmac_compute"),
		APIKeySHA256:    get("api_key_sha256"),
		APISecretSHA256: get("api_secret_sha256"),
		Token:           get("token"),
		PaymentMethod:   get("payment_method"),
		ClientPhone:     get("client_phone"),
		CustomField:     get("custom_field"),
	}
}

// IsTransfer reports whether the notification belongs to the transfer class.
func (n Notification) IsTransfer() bool {
	return strings.HasPrefix(n.TypeEvent, TransferEventPrefix)
}

// SignedAmount returns the amount field covered by the HMAC: the primary field,
// then the secondary one, then "0".
func (n Notification) SignedAmount() string {
	primary, secondary := n.FinalItemPrice, n.ItemPrice
	if n.IsTransfer() {
		primary, secondary = n.Amount, n.AmountXOF
	}
	if primary != "" {
		return primary
	}
	if secondary != "" {
		return secondary
	}
	return "0"
}

// Reference returns the business reference covered by the HMAC.
func (n Notification) Reference() string {
	if n.IsTransfer() {
		return n.IDTransfer
	}
	return n.RefCommand
}
