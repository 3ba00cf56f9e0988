// Package tables registers the importable entities (products, customers and
// suppliers) with the core registry. Import it for its side effects.
package tables

// Each entity file registers itself from init().
