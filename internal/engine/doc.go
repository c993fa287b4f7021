// Package engine provides the HTTP client for one remote analysis-engine
// instance. Each Instance exposes responder lookup and search, job
// submission, and long-polling job status retrieval against the engine's
// REST API, authenticated with a per-instance bearer token.
package engine
