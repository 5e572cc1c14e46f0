package breathe

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/guregu/null/v5"
)

// flexFloat decodes a number that the API sometimes sends as a string.
// Empty strings, nulls and malformed values decode as absent.
type flexFloat struct {
	null.Float
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	f.Float = null.Float{}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		f.Float = null.FloatFrom(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	f.Float = null.FloatFrom(v)
	return nil
}
