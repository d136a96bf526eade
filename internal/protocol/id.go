package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ID is a user/message/call identifier. The backend emits these
// interchangeably as JSON strings and numbers, so they are normalized to
// strings at the wire boundary and compared as strings everywhere else.
type ID string

// UnmarshalJSON accepts a string, a number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the normalized string form.
func (id ID) String() string { return strings.TrimSpace(string(id)) }
