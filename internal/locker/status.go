package locker

import (
	"fmt"
	"strings"
)

// Status is the assignment state of a locker as stored by the backend.
type Status string

const (
	StatusFree        Status = "LIBRE"
	StatusOccupied    Status = "OCUPADO"
	StatusMaintenance Status = "MANTENIMIENTO"
	StatusBlocked     Status = "BLOQUEADO"
)

// Statuses lists the known statuses in legend order.
var Statuses = []Status{StatusFree, StatusOccupied, StatusMaintenance, StatusBlocked}

// Meta is the display metadata attached to a status.
type Meta struct {
	Color string `json:"color"`
	Icon  string `json:"icon"`
	Hint  string `json:"hint"`
}

var statusMeta = map[Status]Meta{
	StatusFree:        {Color: "#22c55e", Icon: "lock-open", Hint: "Disponible"},
	StatusOccupied:    {Color: "#ef4444", Icon: "lock", Hint: "Asignado a colaborador"},
	StatusMaintenance: {Color: "#f59e0b", Icon: "wrench", Hint: "En mantenimiento"},
	StatusBlocked:     {Color: "#6b7280", Icon: "ban", Hint: "Bloqueado"},
}

// English names accepted on input alongside the stored values.
var statusAliases = map[string]Status{
	"FREE":        StatusFree,
	"OCCUPIED":    StatusOccupied,
	"MAINTENANCE": StatusMaintenance,
	"BLOCKED":     StatusBlocked,
}

// NormalizeStatus upper-cases and trims a raw status value. Unknown values
// are returned as-is so callers can preserve them.
func NormalizeStatus(raw string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(raw)))
}

// ParseStatus resolves user input to a known status.
func ParseStatus(raw string) (Status, error) {
	s := NormalizeStatus(raw)
	if s.Known() {
		return s, nil
	}
	if alias, ok := statusAliases[string(s)]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("unknown locker status %q", raw)
}

// Known reports whether s is one of the enumerated statuses.
func (s Status) Known() bool {
	_, ok := statusMeta[s]
	return ok
}

// Meta returns the display metadata for s. Unknown statuses display as free.
func (s Status) Meta() Meta {
	if m, ok := statusMeta[s]; ok {
		return m
	}
	return statusMeta[StatusFree]
}
