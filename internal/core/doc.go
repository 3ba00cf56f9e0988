// Package core provides the business logic for bulk imports of products,
// customers and suppliers.
//
// The package has no knowledge of HTTP or the command line. The web server,
// the importctl CLI and tests all drive it through [Service].
//
// # Entity Registry
//
// Entities are registered at init time using [Register]. Each
// [EntityDefinition] carries its fields, a validator and an upsert:
//
//	core.Register(core.EntityDefinition{
//	    Key:   "suppliers",
//	    Label: "Suppliers",
//	    Fields: []core.FieldSpec{
//	        {Key: "name", Label: "Name", Required: true},
//	        {Key: "email", Label: "Email"},
//	    },
//	    Validate: core.ValidateSupplierImport,
//	    Upsert:   upsertSupplier,
//	})
//
// # Import Pipeline
//
// An import runs in four steps:
//
//  1. The entity validator reports missing required fields and clears bad
//     image URLs. Records are never dropped here.
//  2. [SanitizeBulkImportData] clears image fields holding anything but an
//     http(s) URL or relative path, and any large field carrying Base64 image data.
//  3. [SafeBulkImport] writes records through a bounded [Limiter], retrying
//     transient failures with exponential backoff ([WithRetry]).
//  4. [FormatImportResponse] folds per-item outcomes into an [ImportResult].
//
// Synchronous imports are admitted by an [ImportGate]. Long imports run as
// background jobs on the [JobManager], which reports progress to subscribers.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Each
// category has a code for support reference:
//
//   - DB001-DB007: database errors (duplicates, constraints, connections)
//   - IMP001-IMP006: import errors (size, format, empty input, busy)
//   - JOB001-JOB003: background job errors
//   - RET001-RET002: retries exhausted, circuit open
//   - TRK001-TRK002: shipment tracking errors
//   - ERR000: anything unrecognized
package core
