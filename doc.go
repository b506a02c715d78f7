// Package gdexposure periodically scans a Google Workspace organization's
// Drive audit log for items newly shared with the public internet and sends
// each owner a single consolidated alert.
//
// gdexposure does not watch every document: it queries the Admin SDK
// Reports API for change_document_visibility events over a bounded lookback
// window, extracts the events describing a public visibility, then
// re-checks each item's current sharing state with the Drive API before
// alerting. Items whose sharing was already fixed, or that no longer exist,
// produce no alert.
//
// # Architecture
//
// The detection pipeline flows strictly forward:
//
//   - [AuditSource]: paginated audit log retrieval for a time window
//   - [ExtractCandidates]: normalization, coarse filtering and run-scoped dedup
//   - [Verifier]: live re-check of each candidate against the Drive API
//   - [GroupByOwner]: ordered partition of confirmed exposures by owner
//   - [Reporter]: one consolidated message per owner
//
// # Reporters
//
// Alerts can be delivered by Gmail (one email per owner, with the
// assistance address as reply-to), published to Amazon EventBridge (payload
// types in [github.com/FabriceFx/gdexposure/pkg/exposureevent]), or
// appended to a local NDJSON file for development.
//
// # Policy
//
// An optional YAML policy file carries the operator-maintained exclusion
// list and CEL suppression rules evaluated against each confirmed exposure.
// The file may live on local disk, behind http(s) or in S3.
//
// # Deployment
//
// gdexposure runs as a one-shot CLI under cron, as a long-running HTTP
// server triggered by a scheduler, or on AWS Lambda (via
// [github.com/fujiwara/ridge]) where a non-HTTP scheduled event triggers a
// scan directly.
//
// Runs keep no state across invocations: an exposure that stays unfixed is
// re-alerted on every run, and overlapping runs must be prevented by the
// scheduler or the --lock-file flag.
package gdexposure
