package core

import (
	"encoding/base64"
)

// obfuscationKey is XORed over carried payloads. This is a wire format, not
// encryption: anyone holding this source can read carried messages.
const obfuscationKey = "sneakernet-relay-key"

func xorKey(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ obfuscationKey[i%len(obfuscationKey)]
	}
	return out
}

// Obfuscate hides plain from casual inspection while it sits in a carrier's
// queue. It provides no confidentiality.
func Obfuscate(plain string) string {
	return base64.StdEncoding.EncodeToString(xorKey([]byte(plain)))
}

// Reveal reverses Obfuscate. Input that is not valid base64 is returned as is
// so a corrupt payload cannot stall delivery of other messages.
func Reveal(encoded string) string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}
	return string(xorKey(raw))
}
