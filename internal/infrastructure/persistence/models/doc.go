// Package models contains the GORM persistence models of the state store.
// They are kept apart from the domain types so the domain layer stays free
// of ORM tags; mappers convert in both directions and the snapshot travels
// as JSON in a text column, which keeps the schema identical across the
// sqlite and postgres drivers.
package models
