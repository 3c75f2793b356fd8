package bot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// MaxClientOrderIDLen - предел длины client_order_id у брокера
	MaxClientOrderIDLen = 48

	clientOrderIDPrefix = "sa"
	hashSuffixLen       = 16
)

// BuildClientOrderID строит ключ идемпотентности ноги.
//
// Ключ зависит только от (pairID, ts с точностью до секунды, action, leg, symbol),
// поэтому повтор того же решения всегда дает тот же ключ. Читаемый префикс
// обрезается, уникальность держит суффикс из SHA-256 по всему набору.
//
// Формат: sa-p{pair}-{20060102T150405}-{leg}-{16 hex}
func BuildClientOrderID(pairID int, ts time.Time, action, leg, symbol string) string {
	sec := ts.UTC().Truncate(time.Second)

	// строковые поля с префиксом длины: разделитель внутри поля не склеивает наборы
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d:%s|%d:%s|%d:%s",
		pairID, sec.Unix(), len(action), action, len(leg), leg, len(symbol), symbol)))
	suffix := hex.EncodeToString(sum[:hashSuffixLen/2])

	prefix := fmt.Sprintf("%s-p%d-%s-%s", clientOrderIDPrefix, pairID, sec.Format("20060102T150405"), leg)
	if limit := MaxClientOrderIDLen - hashSuffixLen - 1; len(prefix) > limit {
		prefix = prefix[:limit]
	}

	return prefix + "-" + suffix
}
