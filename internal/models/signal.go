package models

import "time"

// Signal - решение по паре на момент TS (таблица signals).
// Сигналы пишет внешний генератор, исполнитель их только читает.
type Signal struct {
	PairID int       `json:"pair_id" db:"pair_id"`
	TS     time.Time `json:"ts" db:"ts"`
	ZScore float64   `json:"zscore" db:"zscore"`
	Action string    `json:"action" db:"action"`
	RunID  string    `json:"run_id,omitempty" db:"run_id"`
}

// Действия сигнала
const (
	ActionEnterLong  = "ENTER_LONG"
	ActionEnterShort = "ENTER_SHORT"
	ActionExit       = "EXIT"
	ActionHold       = "HOLD"
)
