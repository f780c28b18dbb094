package room

import "math/rand/v2"

// CodeLength is the size of a shareable room code.
const CodeLength = 6

// codeAlphabet omits I, O, 0 and 1 so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode draws a random shareable code. A nil source uses the global one.
func NewCode(src *rand.Rand) string {
	b := make([]byte, CodeLength)
	for i := range b {
		var n int
		if src != nil {
			n = src.IntN(len(codeAlphabet))
		} else {
			n = rand.IntN(len(codeAlphabet))
		}
		b[i] = codeAlphabet[n]
	}
	return string(b)
}

// ValidCode reports whether code has the shape NewCode produces.
func ValidCode(code string) bool {
	code = NormalizeCode(code)
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		ok := false
		for j := 0; j < len(codeAlphabet); j++ {
			if code[i] == codeAlphabet[j] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
