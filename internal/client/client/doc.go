// Package client is the sync core's view of the remote document service.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Client interface): Pull, Push,
//     Fetch, Watch and Ping, all scoped to a user path.
//  2. A gRPC implementation (see GRPCClient) that manages the connection,
//     attaches the access token from an auth.Authenticator through unary
//     and stream interceptors, and maps gRPC status codes to sentinel
//     errors.
//
// # Error Handling
//
// Callers match with errors.Is:
//   - ErrUnavailable: transient, retry later (also deadline exceeded).
//   - ErrUnauthorized: the credential was refused or has expired.
//   - ErrPermissionDenied: the user path is not the caller's.
//   - ErrRejected: the server refused the record permanently.
//
// Concurrency & Contexts
//
// GRPCClient is safe for concurrent use. Every call honors ctx.
package client
