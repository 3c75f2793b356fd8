package models

// Pair - торговая пара (таблица pairs)
type Pair struct {
	ID         int     `json:"id" db:"id"`
	SymbolA    string  `json:"symbol_a" db:"symbol_1"`
	SymbolB    string  `json:"symbol_b" db:"symbol_2"`
	HedgeRatio float64 `json:"hedge_ratio" db:"hedge_ratio"`
	Enabled    bool    `json:"enabled" db:"enabled"`
}

// Symbols возвращает оба символа пары в порядке ног
func (p Pair) Symbols() []string {
	return []string{p.SymbolA, p.SymbolB}
}
