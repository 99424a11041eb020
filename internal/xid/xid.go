package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// SaleNumber builds a store-unique receipt number of the form
// S-YYYYMMDD-CASHIER-XXXXXX. Uniqueness is enforced by the store; callers
// regenerate on collision.
func SaleNumber(cashierID string, at time.Time) string {
	buf := make([]byte, 3)
	suffix := fmt.Sprintf("%06d", at.UnixNano()%1000000)
	if _, err := rand.Read(buf); err == nil {
		suffix = strings.ToUpper(hex.EncodeToString(buf))
	}
	cashier := strings.ToUpper(strings.TrimSpace(cashierID))
	if cashier == "" {
		cashier = "POS"
	}
	if len(cashier) > 8 {
		cashier = cashier[:8]
	}
	return fmt.Sprintf("S-%s-%s-%s", at.UTC().Format("20060102"), cashier, suffix)
}
