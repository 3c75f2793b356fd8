package models

// RunInfo - идентификатор прогона исполнения и метка режима.
// Передается во все компоненты прогона и попадает в каждый лог и dead letter.
type RunInfo struct {
	RunID string `json:"run_id"`
	Mode  string `json:"mode"`
}
