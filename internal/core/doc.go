// Package core is the migration engine: it turns accounting-software exports
// into records of a target collection, with a dry-run preview before any
// write and an undo after.
//
// The package has no transport or storage of its own. It is constructed with
// a record.Store and an EventPublisher and can be driven by the HTTP server,
// the CLI, or tests without modification.
//
// # Batch Lifecycle
//
// Every import is an [ImportBatch] moving through a fixed state machine:
//
//	pending -> validating -> preview -> importing -> completed | failed
//	completed -> reverted
//
//  1. [Service.CreateBatch] declares format, target collection, merge strategy
//     and composite key.
//  2. [Service.UploadContent] parses raw content into rows.
//  3. [Service.SaveMappings] declares source-to-target field mappings.
//  4. [Service.Validate] applies declarative rules to the mapped rows.
//  5. [Service.Preview] classifies every row as add, update, skip or conflict
//     without writing anything.
//  6. [Service.Commit] applies the classification row by row.
//  7. [Service.Revert] removes inserted records and restores updated ones.
//
// Operations invoked in the wrong state fail with a [*StateError].
//
// # Detection and Matching
//
// [Detect] infers format, delimiter, headers and a likely target collection
// from raw content. [SuggestMappings] proposes a target field and value
// transform for each source header using the vendor dictionaries in
// package schema and fuzzy name scoring.
//
// # Error Handling
//
// Only state, not-found, format and invalid-request errors are returned.
// Rule failures and per-row commit failures are recorded as [ImportError]
// data and surfaced through batch counters. [MapError] converts returned
// errors into user-facing messages with a support code:
//
//   - STATE001: operation not allowed in the batch's current state
//   - NF001: batch, record or export job not found
//   - FMT001-FMT003: unparseable source content or backup bundle
//   - REQ001: invalid request
//   - COMMIT001: commit slots exhausted
//
// # Export and Backup
//
// [Service.Export] filters, projects and serialises a collection as JSON,
// delimited text, a text report, a paginated envelope or an xlsx workbook.
// [Service.Backup] and [Service.Restore] move whole collections through a
// versioned JSON bundle.
package core
