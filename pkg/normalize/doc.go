// Package normalize holds the response normalization logic shared by the
// vendor adapters and the router: output item classification, key lookups
// tolerant of camelCase and snake_case spellings, token usage mapping,
// citation URL normalization and dedup, redirect resolution and source
// authority scoring.
//
// Everything except the [Resolver] is pure and safe for concurrent use.
package normalize
