package omie

import (
	"bytes"
	"encoding/json"
	"strings"
)

// detectFault looks for the fault shapes Omie has used over time:
//
//	{"faultstring": "...", "faultcode": "..."}
//	{"fault": {"faultstring": "..."}} / {"error": "..."} / {"erro": {"message": "..."}}
//	{"codigo_status": "5", "descricao_status": "..."}
func detectFault(body []byte) (code, message string, ok bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return "", "", false
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", false
	}

	if msg := rawString(payload["faultstring"]); msg != "" {
		return rawString(payload["faultcode"]), msg, true
	}

	for _, key := range []string{"fault", "error", "erro"} {
		raw, exists := payload[key]
		if !exists {
			continue
		}
		if msg := rawString(raw); msg != "" {
			return "", msg, true
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			continue
		}
		if msg := firstString(nested, "faultstring", "message", "mensagem", "descricao"); msg != "" {
			return firstString(nested, "faultcode", "code", "codigo"), msg, true
		}
	}

	if status := rawString(payload["codigo_status"]); status != "" && status != "0" {
		if msg := rawString(payload["descricao_status"]); msg != "" {
			return status, msg, true
		}
	}
	return "", "", false
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		if s := rawString(m[key]); s != "" {
			return s
		}
	}
	return ""
}

// rawString renders a JSON string or number; anything else is "".
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
