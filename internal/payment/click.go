// Package payment implements the Click two-phase webhook (prepare, then complete), the
// checkout and merchant-invoice links, and the client-facing payment status queries.
package payment

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code is the numeric outcome reported to the gateway in the error field.
type Code int

const (
	CodeSuccess             Code = 0
	CodeSignFailed          Code = -1
	CodeInvalidAmount       Code = -2
	CodeActionNotFound      Code = -3
	CodeAlreadyPaid         Code = -4
	CodeUserNotFound        Code = -5
	CodeTransactionNotFound Code = -6
	CodeUpdateFailed        Code = -7
	CodeBadRequest          Code = -8
	CodeTransactionCanceled Code = -9
)

var codeNotes = map[Code]string{
	CodeSuccess:             "Success",
	CodeSignFailed:          "SIGN CHECK FAILED!",
	CodeInvalidAmount:       "Incorrect parameter amount",
	CodeActionNotFound:      "Action not found",
	CodeAlreadyPaid:         "Already paid",
	CodeUserNotFound:        "User does not exist",
	CodeTransactionNotFound: "Transaction does not exist",
	CodeUpdateFailed:        "Failed to update user",
	CodeBadRequest:          "Error in request from click",
	CodeTransactionCanceled: "Transaction cancelled",
}

func (c Code) Note() string {
	if n, ok := codeNotes[c]; ok {
		return n
	}
	return "Unknown error"
}

func (c Code) String() string { return strconv.Itoa(int(c)) }

// Gateway action constants.
const (
	ActionPrepare  = 0
	ActionComplete = 1
)

// Request is one webhook callback. Amount and SignTime keep the exact text that was signed.
// Complete marks a callback received on the complete endpoint, whatever its action field says.
type Request struct {
	Complete          bool
	ClickTransID      int64
	ServiceID         int64
	ClickPaydocID     int64
	MerchantTransID   string
	MerchantPrepareID int64
	Amount            string
	Action            int
	Error             int
	ErrorNote         string
	SignTime          string
	SignString        string
}

// Response is the JSON body returned to the gateway, always with HTTP 200.
type Response struct {
	ClickTransID      int64  `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID int64  `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID int64  `json:"merchant_confirm_id,omitempty"`
	Error             Code   `json:"error"`
	ErrorNote         string `json:"error_note"`
}

var (
	baseFields     = []string{"click_trans_id", "service_id", "merchant_trans_id", "amount", "action", "sign_time", "sign_string"}
	completeFields = []string{"merchant_prepare_id", "error"}
)

// Form is the subset of url.Values the parser needs.
type Form interface {
	Get(key string) string
	Has(key string) bool
}

// ParseRequest reads a prepare (complete=false) or complete callback. A missing or malformed
// field yields a *ProtocolError with CodeBadRequest listing every offending field.
func ParseRequest(form Form, complete bool) (*Request, error) {
	required := baseFields
	if complete {
		required = append(append([]string(nil), baseFields...), completeFields...)
	}
	var missing []string
	for _, f := range required {
		if !form.Has(f) || strings.TrimSpace(form.Get(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, Fail(CodeBadRequest, "missing fields: "+strings.Join(missing, ", "))
	}

	var (
		req     = &Request{Complete: complete}
		invalid []string
	)
	parseInt := func(field string, dst *int64) {
		v := strings.TrimSpace(form.Get(field))
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			invalid = append(invalid, field)
			return
		}
		*dst = n
	}
	var action, gatewayErr int64
	parseInt("click_trans_id", &req.ClickTransID)
	parseInt("service_id", &req.ServiceID)
	parseInt("click_paydoc_id", &req.ClickPaydocID)
	parseInt("action", &action)
	if complete {
		parseInt("merchant_prepare_id", &req.MerchantPrepareID)
		parseInt("error", &gatewayErr)
	}
	if len(invalid) > 0 {
		return nil, Fail(CodeBadRequest, "invalid fields: "+strings.Join(invalid, ", "))
	}

	req.Action = int(action)
	req.Error = int(gatewayErr)
	req.MerchantTransID = strings.TrimSpace(form.Get("merchant_trans_id"))
	req.Amount = strings.TrimSpace(form.Get("amount"))
	req.ErrorNote = form.Get("error_note")
	req.SignTime = form.Get("sign_time")
	req.SignString = strings.TrimSpace(form.Get("sign_string"))
	return req, nil
}

// fields renders the request as the flat map kept in the audit log and the booking snapshot.
func (r *Request) fields() map[string]string {
	m := map[string]string{
		"click_trans_id":    strconv.FormatInt(r.ClickTransID, 10),
		"service_id":        strconv.FormatInt(r.ServiceID, 10),
		"click_paydoc_id":   strconv.FormatInt(r.ClickPaydocID, 10),
		"merchant_trans_id": r.MerchantTransID,
		"amount":            r.Amount,
		"action":            strconv.Itoa(r.Action),
		"error":             strconv.Itoa(r.Error),
		"error_note":        r.ErrorNote,
		"sign_time":         r.SignTime,
	}
	if r.Complete {
		m["merchant_prepare_id"] = strconv.FormatInt(r.MerchantPrepareID, 10)
	}
	return m
}

// ProtocolError is an outcome reported to the gateway as a negative code.
type ProtocolError struct {
	Code Code
	Note string
}

func (e *ProtocolError) Error() string {
	return "click " + e.Code.String() + ": " + e.Note
}

// Fail builds a ProtocolError; an empty note falls back to the code's standard note.
func Fail(code Code, note string) error {
	if note == "" {
		note = code.Note()
	}
	return &ProtocolError{Code: code, Note: note}
}

// AsProtocolError extracts a ProtocolError from err's chain.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
