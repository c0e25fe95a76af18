// Package models holds the gorm models of the tables and views the service
// reads and writes, with conversions to and from domain types.
package models
