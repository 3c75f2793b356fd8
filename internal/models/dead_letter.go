package models

import "time"

// DeadLetter - запись о запросе, который так и не удалось выполнить.
// Никогда не переигрывается автоматически, только для разбора.
type DeadLetter struct {
	ID        int64                  `json:"id,omitempty" db:"id"`
	Event     string                 `json:"event" db:"event"`
	RunID     string                 `json:"run_id" db:"run_id"`
	Mode      string                 `json:"mode" db:"mode"`
	Method    string                 `json:"method" db:"method"`
	URL       string                 `json:"url" db:"url"`
	Status    *int                   `json:"status" db:"status"` // nil - ответа не было
	Error     string                 `json:"error" db:"error"`
	Attempts  int                    `json:"attempts" db:"attempts"`
	Headers   map[string]string      `json:"headers,omitempty" db:"headers"` // без секретов
	Params    map[string]string      `json:"params,omitempty" db:"params"`
	Body      string                 `json:"data,omitempty" db:"body"`
	Context   map[string]interface{} `json:"context,omitempty" db:"context"`
	CreatedAt time.Time              `json:"ts" db:"created_at"`
}

// EventHTTPDeadLetter - имя события dead letter для HTTP запросов
const EventHTTPDeadLetter = "http_dead_letter"
