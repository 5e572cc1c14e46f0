package baseline

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/guregu/null/v5"
)

// flexString decodes an identifier written either as a JSON string or as a
// number. Whole numbers lose any trailing ".0". Other shapes decode as empty.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*s = ""

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err == nil {
			*s = flexString(strings.TrimSpace(v))
		}
		return nil
	}

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		*s = flexString(strconv.FormatInt(int64(v), 10))
		return nil
	}
	*s = flexString(data)
	return nil
}

// flexFloat decodes a number that may arrive as a string. Empty strings,
// nulls and malformed values decode as absent.
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

// flexBool decodes true, false, "true", "false", 1 and 0. Anything else is
// false.
type flexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseBool(s)
	*b = flexBool(err == nil && v)
	return nil
}

// flexValues decodes the concentrations object. A value that is not an
// object decodes as empty.
type flexValues map[string]null.Float

// UnmarshalJSON implements json.Unmarshaler.
func (m *flexValues) UnmarshalJSON(data []byte) error {
	var raw map[string]flexFloat
	if err := json.Unmarshal(data, &raw); err != nil {
		*m = nil
		return nil
	}
	out := make(flexValues, len(raw))
	for k, v := range raw {
		out[k] = v.Float
	}
	*m = out
	return nil
}

// recordJSON is the wire shape of one extraction record. Older extraction
// output used easting and northing for the British National Grid
// coordinates.
type recordJSON struct {
	URN            flexString `json:"urn"`
	Name           flexString `json:"name"`
	Postcode       flexString `json:"postcode"`
	Borough        flexString `json:"borough"`
	Latitude       flexFloat  `json:"latitude"`
	Longitude      flexFloat  `json:"longitude"`
	BNGEasting     flexFloat  `json:"bng_easting"`
	BNGNorthing    flexFloat  `json:"bng_northing"`
	Easting        flexFloat  `json:"easting"`
	Northing       flexFloat  `json:"northing"`
	LAEIFound      flexBool   `json:"laei_found"`
	Concentrations flexValues `json:"concentrations"`
}

// UnmarshalJSON implements json.Unmarshaler. Field values that cannot be
// read are left absent; only a record that is not a JSON object fails.
func (rec *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	easting, northing := raw.BNGEasting.Float, raw.BNGNorthing.Float
	if !easting.Valid {
		easting = raw.Easting.Float
	}
	if !northing.Valid {
		northing = raw.Northing.Float
	}

	*rec = Record{
		URN:            string(raw.URN),
		Name:           string(raw.Name),
		Postcode:       string(raw.Postcode),
		Borough:        string(raw.Borough),
		Latitude:       raw.Latitude.Float,
		Longitude:      raw.Longitude.Float,
		Easting:        easting,
		Northing:       northing,
		LAEIFound:      bool(raw.LAEIFound),
		Concentrations: raw.Concentrations,
	}
	return nil
}
