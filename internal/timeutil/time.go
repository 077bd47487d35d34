package timeutil

import (
	"encoding/json"
	"strconv"
	"time"
)

// Time decodes either an RFC3339 string or unix milliseconds, and encodes
// as unix milliseconds.
type Time time.Time

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == "{}" {
		return nil
	}
	if s[0] == '"' {
		tt, err := time.Parse(`"`+time.RFC3339Nano+`"`, s)
		if err != nil {
			return err
		}
		*t = Time(tt)
	} else {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*t = Time(time.UnixMilli(i))
	}
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UnixMilli())
}

func (t Time) Time() time.Time {
	return time.Time(t)
}

func FromMs(ms int64) Time {
	return Time(time.UnixMilli(ms))
}
