// Package internal contains the implementation packages for serial-pdf.
//
// The packages are organized by functional domain:
//
//   - config: viper-backed configuration with defaults and validation
//   - errors: structured error type with kinds, codes, and context
//   - logging: slog-backed structured logging with component scoping
//   - vcs: commit resolution and commit-pinned template checkouts
//   - placeholder: token substitution engine and the Value data type
//   - latex: latexmk invocation, log filtering, artifact verification
//   - stage: staging and export-once handling of compiled PDFs
//   - errorlog: bounded store for filtered build logs of failed jobs
//   - jobs: job records, the worker pool, and the store backends
//   - registry: template discovery with filesystem watching
//   - server: HTTP API over the job manager and the registry
//   - version: build identity
//
// A job flows submit -> queue -> worker -> resolve -> render -> compile ->
// stage, and its artifact moves from staging to the export root on the
// first poll that sees the job READY. The job store is the only state
// shared between the submitting request and the workers; snapshots and
// staged artifacts always have a single owner.
package internal
