package models

import "time"

// Position - текущая позиция по символу (таблица positions)
type Position struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Qty       float64   `json:"qty" db:"qty"` // знак = направление
	AvgCost   float64   `json:"avg_cost" db:"avg_cost"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PricePoint - цена закрытия бара (таблица prices)
type PricePoint struct {
	Symbol string    `json:"symbol" db:"symbol"`
	TS     time.Time `json:"ts" db:"ts"`
	Close  float64   `json:"close" db:"close"`
}
