package otp

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

// CodeDigits is the length of every generated code.
const CodeDigits = 6

// codeFloor is the smallest code with CodeDigits digits; codes never start with 0.
var (
	codeFloor = big.NewInt(100000)
	codeSpan  = big.NewInt(900000)
)

// GenerateCode returns a 6-digit numeric code whose leading digit is 1-9 (e.g. "482913").
// Uses crypto/rand for randomness.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Add(n, codeFloor).Int64(), 10), nil
}

// WellFormed reports whether code looks like something GenerateCode could have produced.
// Used to short-circuit obviously bad submissions before a bcrypt comparison.
func WellFormed(code string) bool {
	if len(code) != CodeDigits || code[0] == '0' {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
