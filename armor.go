package mailstore

import (
	"encoding/base64"
	"strings"
)

// armorLineLength keeps encoded bodies within RFC 5322 line limits.
const armorLineLength = 76

// encodeArmor base64-encodes data and folds it into mail-safe lines.
func encodeArmor(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)

	var b strings.Builder
	for len(enc) > armorLineLength {
		b.WriteString(enc[:armorLineLength])
		b.WriteString("\r\n")
		enc = enc[armorLineLength:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
	return b.String()
}

// decodeArmor reverses encodeArmor, tolerating any line folding.
func decodeArmor(body string) ([]byte, error) {
	body = strings.ReplaceAll(body, "\r", "")
	body = strings.ReplaceAll(body, "\n", "")
	return base64.StdEncoding.DecodeString(body)
}
