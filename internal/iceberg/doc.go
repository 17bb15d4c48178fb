// Package iceberg resolves Iceberg table metadata from object storage and
// reconciles snapshots, manifest lists and manifests into table statistics.
//
// The reference chain is metadata file -> snapshot -> manifest list ->
// manifest -> data files. Every operation re-reads storage; nothing is cached
// between calls.
//
//	resolver := iceberg.NewResolver(store, logger)
//	walker := iceberg.NewWalker(store, logger, iceberg.WithWorkers(8))
//	agg := iceberg.NewAggregator(resolver, walker, logger)
//	analysis, err := agg.Analyze(ctx, "lake", "warehouse/orders")
//
// Failures reading individual manifests are contained: they are logged and
// the manifest contributes no files. Metadata resolution failures, unknown
// snapshot ids and credential errors are returned to the caller.
package iceberg
