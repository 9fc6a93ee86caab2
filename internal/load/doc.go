// Package load writes finished documents to the target store.
//
// Every write is an upsert keyed by original_id, so loading the same run
// twice leaves collection counts unchanged. Collections are loaded in
// dependency order: organizations, users and labels before projects.
//
// Mongo is the production Sink; Memory backs tests and dry runs. Both also
// serve read-back for validation.
package load
