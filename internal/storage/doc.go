// Package storage provides the SQLite persistence layer.
//
// It currently holds:
//   - The national-holiday cache (one row per year+date, populated once per
//     year and never refreshed)
//   - The execution audit trail (one row per execution attempt)
package storage
