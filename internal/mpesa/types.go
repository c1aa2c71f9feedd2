package mpesa

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Result codes the service acts on. Anything else is a definitive failure.
const (
	ResultSuccess = "0"
	// ResultProcessing is returned by the status query while the customer has not answered.
	ResultProcessing = "500.001.1001"
	// ResultSystemBusy means the gateway could not determine the outcome yet.
	ResultSystemBusy = "4999"
	// ResultTimeout is assigned locally when a transaction never resolves.
	ResultTimeout = "TIMEOUT"
)

// IsSuccess reports whether code means the customer paid.
func IsSuccess(code string) bool {
	return strings.TrimSpace(code) == ResultSuccess
}

// IsPending reports whether code means the outcome is not known yet.
func IsPending(code string) bool {
	switch strings.TrimSpace(code) {
	case ResultProcessing, ResultSystemBusy:
		return true
	}
	return false
}

// ChargeAmount converts an order total into the whole-shilling amount the gateway accepts.
// Fractions round up so the merchant is never short-paid.
func ChargeAmount(total decimal.Decimal) int64 {
	return total.Ceil().IntPart()
}

// Code is a result code that the gateway sends either as a JSON number or a string.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

func (c Code) String() string { return string(c) }

// STKPushParams describes one payment prompt.
type STKPushParams struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
	CallbackURL      string
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is the synchronous acknowledgement of a push request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        Code   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Accepted reports whether the gateway queued the prompt.
func (r *STKPushResponse) Accepted() bool {
	return IsSuccess(string(r.ResponseCode))
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// STKQueryResponse is the gateway's view of a push at query time.
type STKQueryResponse struct {
	ResponseCode        Code   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          Code   `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// CallbackEnvelope is the body POSTed to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback carries the final outcome of a push.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        Code              `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata lists the name/value pairs sent with successful payments.
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is one metadata entry. Value may be a number or a string.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

func (cb *STKCallback) item(name string) (string, bool) {
	if cb.CallbackMetadata == nil {
		return "", false
	}
	for _, it := range cb.CallbackMetadata.Item {
		if it.Name != name || len(it.Value) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(it.Value, &s); err == nil {
			return s, true
		}
		var n json.Number
		if err := json.Unmarshal(it.Value, &n); err == nil {
			return n.String(), true
		}
	}
	return "", false
}

// ReceiptNumber returns the MpesaReceiptNumber item.
func (cb *STKCallback) ReceiptNumber() string {
	s, _ := cb.item("MpesaReceiptNumber")
	return s
}

// Amount returns the Amount item, or false when absent or malformed.
func (cb *STKCallback) Amount() (decimal.Decimal, bool) {
	s, ok := cb.item("Amount")
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// PhoneNumber returns the paying MSISDN item.
func (cb *STKCallback) PhoneNumber() string {
	s, _ := cb.item("PhoneNumber")
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return ""
	}
	return s
}
