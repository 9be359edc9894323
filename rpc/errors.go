package rpc

import "errors"

// errInvalidParams marks a params-decoding failure so Dispatch's future
// callers (a JSON-RPC transport layer) can distinguish it from an
// internal collaborator error if finer-grained error codes are added.
var errInvalidParams = errors.New("rpc: invalid params")
