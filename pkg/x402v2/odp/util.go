package odp

import (
	"encoding/hex"
	"encoding/json"
)

// hexEncode renders b as lowercase hex without a leading 0x; callers prepend
// the prefix themselves since some call sites (signatures) always want it and
// others (none currently) might not.
func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// toPayloadMap round-trips a typed Payload through JSON into the
// map[string]interface{} shape x402v2.PaymentPayload.Payload carries on the
// wire, the inverse of decodePayload.
func toPayloadMap(p Payload) (map[string]interface{}, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
