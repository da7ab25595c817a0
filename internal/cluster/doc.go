// Package cluster defines the JSON wire types of drift's HTTP surface and the
// small client helpers used to call it.
//
// # Endpoints
//
//	GET  /files/{name}            FileResponse
//	PUT  /files/{name}            WriteRequest -> FileResponse
//	GET  /admin/filelocations     LocationsResponse
//	GET  /admin/files             FilesResponse
//	GET  /admin/files/{name}      MembershipResponse
//	GET  /admin/nodes             NodesResponse
//	POST /admin/flush             (no body)
//	POST /admin/balance/read      ReadBalanceResponse
//	POST /admin/balance/server    ServerBalanceResponse
//	GET  /health                  HealthResponse
//
// File names travel as one escaped path segment and may not contain '/'.
//
// Every non-2xx reply carries an ErrorResponse. GetJSON, PostJSON and
// PutJSON turn it into a *StatusError.
//
// The types here are plain data and do not import the coordinator; the
// server converts its own types on the way out.
package cluster
