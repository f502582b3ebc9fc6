package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RemiFigea/parkwatch/internal/parking"
)

// Upstream field names of the real-time parking feed.
const (
	FieldAvailableSpaces = "mv:currentValue"
	FieldIsClosed        = "ferme"
	FieldFacilityID      = "Parking_schema:identifier"
	FieldObservedAt      = "dct:date"
)

// RequiredFields must appear as columns of every snapshot.
var RequiredFields = []string{FieldAvailableSpaces, FieldIsClosed, FieldFacilityID, FieldObservedAt}

const (
	canonicalFacilityID      = "facility_id"
	canonicalIsClosed        = "is_closed"
	canonicalAvailableSpaces = "available_spaces"
	canonicalObservedAt      = "observed_at"
)

var fieldRenames = map[string]string{
	FieldAvailableSpaces: canonicalAvailableSpaces,
	FieldIsClosed:        canonicalIsClosed,
	FieldFacilityID:      canonicalFacilityID,
	FieldObservedAt:      canonicalObservedAt,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// Normalize checks that every required field is a column of the record set and converts
// the records to canonical status records. A field counts as a column when any record has it.
// Values are coerced permissively: unusable values become the zero value or a missing count.
// Entries without a facility id, including null array elements, are dropped.
func Normalize(raw []RawRecord, required []string) ([]parking.StatusRecord, error) {
	if missing := missingColumns(raw, required); len(missing) > 0 {
		return nil, &parking.Error{
			Kind:    parking.KindSchemaDrift,
			Op:      "normalize snapshot",
			Missing: missing,
		}
	}

	batch := make([]parking.StatusRecord, 0, len(raw))
	for _, record := range raw {
		canonical := rename(record)
		facilityID := asString(canonical[canonicalFacilityID])
		if facilityID == "" {
			continue
		}
		batch = append(batch, parking.StatusRecord{
			FacilityID:      facilityID,
			IsClosed:        asBool(canonical[canonicalIsClosed]),
			AvailableSpaces: asSpaces(canonical[canonicalAvailableSpaces]),
			ObservedAt:      asTime(canonical[canonicalObservedAt]),
		})
	}
	return batch, nil
}

func missingColumns(raw []RawRecord, required []string) []string {
	columns := make(map[string]struct{})
	for _, record := range raw {
		for key := range record {
			columns[key] = struct{}{}
		}
	}

	missing := make([]string, 0)
	for _, field := range required {
		if _, ok := columns[field]; !ok {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

func rename(record RawRecord) map[string]any {
	out := make(map[string]any, len(record))
	for key, value := range record {
		if canonical, ok := fieldRenames[key]; ok {
			out[canonical] = value
			continue
		}
		out[key] = value
	}
	return out
}

func asString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func asBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	case json.Number:
		n, err := v.Float64()
		return err == nil && n != 0
	case float64:
		return v != 0
	default:
		return false
	}
}

func asSpaces(value any) *int {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return parking.Spaces(int(n))
		}
		if f, err := v.Float64(); err == nil {
			return spacesFromFloat(f)
		}
	case float64:
		return spacesFromFloat(v)
	case int:
		return parking.Spaces(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parking.Spaces(n)
		}
	}
	return nil
}

func spacesFromFloat(f float64) *int {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	return parking.Spaces(int(f))
}

func asTime(value any) time.Time {
	text, ok := value.(string)
	if !ok {
		return time.Time{}
	}
	text = strings.TrimSpace(text)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
