// Package provider defines the contract between the router and the vendor
// adapters. Each adapter (responses, gemini) handles its own wire protocol
// internally: it builds the provider request from a canonical
// [api.Request], returns the raw provider payload tagged with its protocol
// family, and normalizes that payload into a [Result].
//
// The package also holds the pieces shared by all adapters: capability
// gating of caller knobs, the tagged output item variant, and the HTTP
// client with its status and network error mapping.
package provider
