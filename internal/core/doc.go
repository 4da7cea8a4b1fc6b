// Package core answers address viability lookups by CEP and building number.
//
// The dataset comes from an xlsx workbook where every sheet shares one
// layout: a title row, a 14-column header row, then data rows. [Workbook]
// streams qualifying rows as [AddressRecord] values, and [Store] publishes
// them as an immutable snapshot indexed by (CEP, number), CEP, and street
// code. Readers always see a complete dataset: either the previous one or the
// new one, never a mix.
//
// # Reloading
//
// [Reloader] replaces the dataset in two phases. Staging parses the whole
// workbook in memory; a parse error or a workbook with no qualifying rows
// fails the reload and leaves the published data untouched. Swapping writes
// the records to the [Persister] in one transaction and then swaps the
// in-memory snapshot. Only one reload or clear runs at a time per process
// ([ReloadGuard]); an optional [ReloadLock] extends that across replicas.
//
// # Errors
//
// Technical errors are mapped to user-facing messages with support codes by
// [MapError]:
//
//   - VAL010-VAL011: query validation
//   - SRC001-SRC004: workbook problems
//   - FILE001-FILE004: upload problems
//   - RLD001-RLD002: reload concurrency
//   - DB004-DB007, REQ001-REQ002, RATE001: infrastructure
package core
