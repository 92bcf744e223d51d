// Package model provides the shared data model for the ledgersync core.
//
// This package contains type definitions, validation and pure helpers only.
// All other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Amounts are decimal strings (up to u128), never floats
//   - Payment details are a closed tagged union with exactly one variant set
//   - Sync record payloads are flat string maps, serialized canonically
//   - All JSON tags use snake_case
package model
