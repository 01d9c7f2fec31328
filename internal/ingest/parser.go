package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"wifiwatch/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+Z-]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)
)

// nmcli -t -f IN-USE,SSID,BSSID,SIGNAL,CHAN,FREQ,SECURITY dev wifi list
const nmcliFields = 7

type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine accepts JSON objects, nmcli terse rows, CSV rows and key=value
// text. It returns nil fields for lines that carry no measurement (blank
// lines, CSV headers, hidden networks).
func (p *Parser) ParseLine(line string) (*normalize.MeasurementFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if parts := splitEscaped(trim, ':'); len(parts) == nmcliFields && strings.Count(parts[2], ":") == 5 {
		fields := parseNmcli(parts)
		if fields != nil {
			fields.Raw = line
		}
		return fields, nil
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.MeasurementFields, error) {
	return ParseJSONBytes([]byte(line))
}

// splitEscaped splits on sep, honouring backslash escapes the way nmcli
// terse output escapes colons inside BSSIDs and SSIDs.
func splitEscaped(s string, sep rune) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, ch := range s {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(ch)
		}
	}
	return append(parts, cur.String())
}

func parseNmcli(parts []string) *normalize.MeasurementFields {
	ssid := strings.TrimSpace(parts[1])
	if ssid == "" || ssid == "--" {
		return nil
	}
	return &normalize.MeasurementFields{
		NetworkID: ssid,
		BSSID:     strings.TrimSpace(parts[2]),
		Signal:    strings.TrimSpace(parts[3]),
		Channel:   strings.TrimSpace(parts[4]),
		Frequency: strings.TrimSpace(parts[5]),
		Security:  strings.TrimSpace(parts[6]),
		Source:    "nmcli",
	}
}

func parsePlain(line string) (*normalize.MeasurementFields, error) {
	fields := &normalize.MeasurementFields{}
	ts, _ := extractTimestamp(line)
	fields.Timestamp = ts

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	for k, v := range kv {
		assignField(fields, k, v)
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees. Without one, columns
// are timestamp, location, network, signal, bssid.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.MeasurementFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.MeasurementFields{Source: "csv"}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	positional := []*string{&fields.Timestamp, &fields.Location, &fields.NetworkID, &fields.Signal, &fields.BSSID}
	for i, dst := range positional {
		if i < len(record) {
			*dst = strings.TrimSpace(record[i])
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "timestamp", "time", "ts", "location", "room", "ssid", "network_id", "signal", "signal_strength", "bssid":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.MeasurementFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "location", "room":
		fields.Location = value
	case "network_id", "network", "ssid":
		fields.NetworkID = value
	case "bssid":
		fields.BSSID = value
	case "signal", "signal_strength", "rssi":
		fields.Signal = value
	case "signal_unit", "unit":
		fields.SignalUnit = value
	case "channel", "chan":
		fields.Channel = value
	case "frequency", "freq", "frequency_band", "band":
		fields.Frequency = value
	case "security":
		fields.Security = value
	case "source":
		fields.Source = value
	}
}
