// Package transfer drives the single-shot graph primitives to completion.
// It owns every retry decision the graph drivers leave to their caller.
//
// Uploader streams a file through an upload session chunk by chunk, retrying
// transient chunk failures with backoff and halving the chunk size when they
// repeat. Sessions are persisted in a SessionStore so an interrupted upload
// resumes where the server left off. UploadAll runs independent uploads in
// parallel.
//
// WaitForCopy polls a copy monitor with a capped exponential interval until
// the copy reaches a terminal status.
package transfer
