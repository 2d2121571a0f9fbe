// Package storage persists the portal's small datasets as flat JSON files
// with atomic replace-on-write semantics.
package storage
