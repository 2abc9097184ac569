package cdp

import (
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// command is a CDP request as typed into the console.
type command struct {
	ID        int64
	SessionID string
	Method    string
	Params    easyjson.RawMessage
}

var (
	_ easyjson.Marshaler   = command{}
	_ easyjson.Unmarshaler = &command{}
)

// UnmarshalEasyJSON decodes a command, skipping fields CDP does not define
// for requests.
func (c *command) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			c.ID = in.Int64()
		case "sessionId":
			c.SessionID = in.String()
		case "method":
			c.Method = in.String()
		case "params":
			c.Params.UnmarshalEasyJSON(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// MarshalEasyJSON encodes the command in the field order the console prints.
func (c command) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"id":`)
	out.Int64(c.ID)
	if c.SessionID != "" {
		out.RawString(`,"sessionId":`)
		out.String(c.SessionID)
	}
	out.RawString(`,"method":`)
	out.String(c.Method)
	if len(c.Params) > 0 {
		out.RawString(`,"params":`)
		c.Params.MarshalEasyJSON(out)
	}
	out.RawByte('}')
}
