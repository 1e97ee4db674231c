package payment

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

// SignatureV1 is the gateway's canonical signature:
//
//	md5(click_trans_id + service_id + secret + merchant_trans_id + [merchant_prepare_id] + amount + action + sign_time)
//
// merchant_prepare_id takes part only in callbacks on the complete endpoint.
func SignatureV1(secret string, r *Request) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(r.ClickTransID, 10))
	b.WriteString(strconv.FormatInt(r.ServiceID, 10))
	b.WriteString(secret)
	b.WriteString(r.MerchantTransID)
	if r.Complete {
		b.WriteString(strconv.FormatInt(r.MerchantPrepareID, 10))
	}
	b.WriteString(r.Amount)
	b.WriteString(strconv.Itoa(r.Action))
	b.WriteString(r.SignTime)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares the received sign_string with the expected one in constant time.
func VerifySignature(secret string, r *Request) bool {
	expected := SignatureV1(secret, r)
	got := strings.ToLower(r.SignString)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
