package wakala

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	codePrefix      = "TXN"
	codeSuffixLen   = 8
	codeAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxUnbiasedByte = 252 // 36 * 7
)

// CodeGenerator produces transaction codes. Tests may swap in a deterministic one.
type CodeGenerator func(now time.Time) (string, error)

// NewTransactionCode returns TXN + YYYYMMDD + "-" + 8 random base36 characters.
// A duplicate is rejected by the unique index on transaction_code as a retryable conflict.
func NewTransactionCode(now time.Time) (string, error) {
	suffix := make([]byte, 0, codeSuffixLen)
	buf := make([]byte, 16)
	for len(suffix) < codeSuffixLen {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("wakala: generate transaction code: %w", err)
		}
		for _, b := range buf {
			if b >= maxUnbiasedByte {
				continue
			}
			suffix = append(suffix, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(suffix) == codeSuffixLen {
				break
			}
		}
	}
	return codePrefix + now.Format("20060102") + "-" + string(suffix), nil
}
