package bookclub

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Actor is an account address attributed to a caller, always stored in its
// EIP-55 checksum form.
type Actor string

const actorHexLen = 40

// ParseActor validates a 0x-prefixed 20-byte hex address in any letter case
// and returns its checksum form.
func ParseActor(s string) (Actor, error) {
	s = strings.TrimSpace(s)
	if len(s) != actorHexLen+2 || (s[:2] != "0x" && s[:2] != "0X") {
		return "", newError(CodeInvalidInput, "invalid actor address %q", s)
	}
	lower := strings.ToLower(s[2:])
	if _, err := hex.DecodeString(lower); err != nil {
		return "", newError(CodeInvalidInput, "invalid actor address %q", s)
	}
	return Actor(checksum(lower)), nil
}

// checksum applies EIP-55 casing to a lowercase 40-digit hex string.
func checksum(lower string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, 0, len(lower)+2)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

func (a Actor) String() string { return string(a) }

// Short renders the address the way listings abbreviate it.
func (a Actor) Short() string {
	if len(a) < 10 {
		return string(a)
	}
	return string(a[:6]) + "..." + string(a[len(a)-4:])
}
