package model

import "time"

// LockerRow is the wire and storage shape of one row of the lockers table.
// Column names follow the hosted backend's schema.
type LockerRow struct {
	ID                   int64     `gorm:"primaryKey" json:"id"`
	Codigo               string    `gorm:"column:codigo;size:32;not null;index" json:"codigo"`
	Estado               string    `gorm:"column:estado;size:24;not null;default:LIBRE" json:"estado"`
	Grupo                *string   `gorm:"column:grupo;size:64" json:"grupo"`
	ColaboradorNombre    *string   `gorm:"column:colaborador_nombre;size:256" json:"colaborador_nombre"`
	ColaboradorDocumento *string   `gorm:"column:colaborador_documento;size:64" json:"colaborador_documento"`
	FechaAsignacion      *string   `gorm:"column:fecha_asignacion;size:10" json:"fecha_asignacion"`
	Notas                *string   `gorm:"column:notas" json:"notas"`
	Color                *string   `gorm:"column:color;size:16" json:"color"`
	Icono                *string   `gorm:"column:icono;size:32" json:"icono"`
	Activo               *bool     `gorm:"column:activo;not null;default:true" json:"activo"`
	Version              int64     `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (LockerRow) TableName() string { return "lockers" }

// Column names of the lockers table.
const (
	ColID                   = "id"
	ColCodigo               = "codigo"
	ColEstado               = "estado"
	ColGrupo                = "grupo"
	ColColaboradorNombre    = "colaborador_nombre"
	ColColaboradorDocumento = "colaborador_documento"
	ColFechaAsignacion      = "fecha_asignacion"
	ColNotas                = "notas"
	ColColor                = "color"
	ColIcono                = "icono"
	ColActivo               = "activo"
	ColVersion              = "version"
	ColUpdatedAt            = "updated_at"
)
