// Package store provides the data access layer of the Digital Linguistics
// database on DynamoDB.
//
// Items are semi-structured documents ([Item]) discriminated by their "type"
// property. Each type belongs to one of two containers, each backed by a table
// keyed by "pk" (partition) and "id":
//
//   - [Data] holds language-scoped items (Lexeme, Text), partitioned by language.id
//   - [Metadata] holds everything else, partitioned by type
//
// # Writes
//
// Every write passes the validation gate ([Store.Validate]) before any request
// is sent: the item needs a known type, data items need a language.id, and the
// item must satisfy its JSON Schema.
//
// Bulk writes ([Store.AddMany], [Store.UpsertMany]) target one partition. They
// are split into chunks of at most [Config.BulkLimit] operations, each written
// as one transaction. Chunks run in order; the first chunk with a failed item
// ends the call with status 207 and that chunk's per-item results. Chunks
// already written are not rolled back.
//
// # Responses
//
// Every operation returns a [Response] carrying an HTTP-style status. Domain
// outcomes (not found, conflict, invalid item, partial failure) are reported
// through the Response; the error return is reserved for store failures.
// [Response.Err] converts a Response into the error taxonomy:
//
//   - [ErrValidation] - the item failed the validation gate (422)
//   - [ErrBadRequest] - the request was malformed (400)
//   - [ErrNotFound] - a point read found nothing (404)
//   - [ErrConflict] - an item with the same id already exists (409)
//   - [ErrPartialFailure] - a bulk operation had a failed item (207)
//
// # Queries
//
// List readers ([Store.GetLanguages], [Store.GetLexemes], [Store.GetProjects],
// [Store.GetReferences]) and [Store.Count] compose filters for language,
// project membership and permissions. Every caller value is bound as an
// expression attribute value.
package store
