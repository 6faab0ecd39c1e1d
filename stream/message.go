// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stream

import (
	"github.com/juju/utils/v4"

	"github.com/juju/couchdb/transport"
)

// Token correlates a consumer's delivery channel with one streaming
// session. Tokens are opaque and unguessable; a consumer handling
// several concurrent sessions demultiplexes on the token carried by
// every message.
type Token string

// NewToken returns a fresh session token.
func NewToken() Token {
	return Token(utils.MustNewUUID().String())
}

// Kind identifies the payload carried by a Message.
type Kind string

const (
	// Data is a fragment of attachment body bytes.
	Data Kind = "data"

	// Change is one parsed row of a continuous changes feed.
	Change Kind = "change"

	// LastSeq carries the final sequence marker of a changes feed.
	LastSeq Kind = "last-seq"

	// Done signals successful completion of the session. It is
	// terminal: nothing follows it.
	Done Kind = "done"

	// Error signals failure of the session. It is terminal: nothing
	// follows it.
	Error Kind = "error"
)

// Message is one unit of the delivery protocol between an acceptor and
// its consumer. Exactly one of Data, Change, LastSeq and Err is set,
// according to Kind; Done messages carry the token alone. For any one
// session messages arrive in wire order and exactly one terminal
// message (Done or Error) is ever delivered.
type Message struct {
	Token   Token
	Kind    Kind
	Data    []byte
	Change  *transport.ChangeRow
	LastSeq transport.Seq
	Err     error
}
