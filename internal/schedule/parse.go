package schedule

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

type apiResponse struct {
	Members []apiRecord `json:"hydra:member"`
}

type apiRecord struct {
	DateGraph string                  `json:"dateGraph"`
	DataJSON  map[string]apiGroupData `json:"dataJson"`
}

type apiGroupData struct {
	Times map[string]code `json:"times"`
}

// code accepts both "1" and 1.
type code string

func (c *code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = code(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	// 1.0 and 1 are the same code.
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
		*c = code(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*c = code(n.String())
	return nil
}

// ParseResponse extracts the schedule for date and group from an upstream
// response body. It returns ErrNotFound when no record matches date and a
// *ParseError when body is not a valid response.
func ParseResponse(body []byte, date time.Time, group string) (Day, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Day{}, &ParseError{Reason: "decode body", Err: err}
	}

	key := date.Format(DateLayout)
	for _, rec := range resp.Members {
		if !strings.HasPrefix(rec.DateGraph, key) {
			continue
		}
		day := Day{
			Date:  time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()),
			Group: group,
			Slots: map[string]string{},
		}
		if data, ok := lookupGroup(rec.DataJSON, group); ok {
			for label, c := range data.Times {
				day.Slots[label] = string(c)
			}
		}
		return day, nil
	}
	return Day{}, ErrNotFound
}

// lookupGroup tries the exact key, then the first key containing group.
func lookupGroup(m map[string]apiGroupData, group string) (apiGroupData, bool) {
	if d, ok := m[group]; ok {
		return d, true
	}
	if group == "" {
		return apiGroupData{}, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(k, group) {
			return m[k], true
		}
	}
	return apiGroupData{}, false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
