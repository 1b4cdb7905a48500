// Package protocol defines the newline-delimited JSON request/response
// types exchanged between clients and a project's local server over
// loopback TCP. One request per line, one response line back.
package protocol

import (
	"time"

	"github.com/fyrsmithlabs/knowd/internal/entry"
)

// Commands.
const (
	CmdSearch    = "search"
	CmdAdd       = "add"
	CmdTombstone = "tombstone"
	CmdRebuild   = "rebuild"
	CmdStatus    = "status"
	CmdPing      = "ping"
)

// Error codes carried in Response.Code. Clients dispatch on these, not on
// error message text.
const (
	CodeBadRequest           = "bad_request"
	CodeIOError              = "io_error"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeSearchUnavailable    = "search_unavailable"
	CodeTimeout              = "timeout"
	CodeAddressCollision     = "address_collision"
	CodeInternal             = "internal"
)

// Request is one client command.
type Request struct {
	Cmd string `json:"cmd"`

	// Project is the sender's project identity hash. Every request and
	// response carries it; a mismatch means two distinct roots collided
	// on the same derived port and the call must fail rather than touch
	// the wrong project's data.
	Project string `json:"project"`

	// Query and Limit apply to search.
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`

	// Entry applies to add. The server assigns ID and CreatedAt.
	Entry *entry.Entry `json:"entry,omitempty"`

	// ID applies to tombstone.
	ID string `json:"id,omitempty"`
}

// SearchResult is one ranked entry in a search response.
type SearchResult struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Kind      entry.Kind     `json:"kind"`
	Tags      []string       `json:"tags,omitempty"`
	Priority  entry.Priority `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Source    string         `json:"source,omitempty"`
	Score     float64        `json:"score"`
}

// Response is the server's reply to one Request.
type Response struct {
	// Project echoes the server's project identity hash.
	Project string `json:"project"`

	// Search fields.
	// Results stays present (and empty) for a search with no matches, so
	// "nothing found" never looks like an error on the wire.
	Results []SearchResult `json:"results"`
	SearchTimeMS float64        `json:"search_time_ms,omitempty"`

	// Add fields. Pending means the entry was durably journaled but not
	// yet indexed because the embedding provider was unavailable.
	ID      string `json:"id,omitempty"`
	Pending bool   `json:"pending,omitempty"`

	// Rebuild/status fields.
	Status         string `json:"status,omitempty"`
	EntriesIndexed int    `json:"entries_indexed,omitempty"`
	PendingCount   int    `json:"pending_count,omitempty"`

	// Error fields. Empty Error means success.
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// OK reports whether the response carries no error.
func (r *Response) OK() bool {
	return r.Error == ""
}
