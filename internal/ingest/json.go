package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"wifiwatch/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.MeasurementFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap reads flat objects. A signal given as {"unit":..,"value":..}
// keeps its tag.
func ParseJSONMap(obj map[string]interface{}) *normalize.MeasurementFields {
	fields := &normalize.MeasurementFields{}
	flat := map[string]string{}
	for key, val := range obj {
		key = strings.ToLower(key)
		switch v := val.(type) {
		case nil:
			continue
		case map[string]interface{}:
			if key == "signal" {
				if u, ok := v["unit"]; ok {
					flat["signal_unit"] = fmt.Sprint(u)
				}
				if n, ok := v["value"]; ok {
					flat["signal"] = formatNumber(n)
				}
			}
		case float64:
			flat[key] = formatNumber(v)
		default:
			flat[key] = fmt.Sprint(v)
		}
	}
	for key, val := range flat {
		assignField(fields, key, val)
	}
	fields.Timestamp = firstNonEmpty(flat, "timestamp", "time", "ts")
	return fields
}

func formatNumber(v interface{}) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
