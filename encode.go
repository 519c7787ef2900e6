package sqlmcp

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"gopkg.in/yaml.v3"

	"github.com/rickchristie/sql-mcp/internal/dialect"
)

// Response is the envelope of every tool call: either OK with Data or not
// OK with Error.
type Response struct {
	OK    bool       `json:"ok" yaml:"ok"`
	Data  any        `json:"data,omitempty" yaml:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty" yaml:"error,omitempty"`
}

// ErrorBody is the encoded form of a ToolError.
type ErrorBody struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

func okResponse(data any) *Response {
	return &Response{OK: true, Data: data}
}

func errorResponse(te *ToolError) *Response {
	return &Response{Error: &ErrorBody{Kind: te.Kind, Message: te.Message}}
}

// EncodeResponse serializes resp as "json" or "yaml".
func EncodeResponse(resp *Response, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return json.Marshal(resp)
	case FormatYAML:
		return yaml.Marshal(resp)
	default:
		return nil, fmt.Errorf("unsupported response format %q", format)
	}
}

// DecodeResponse parses a JSON-encoded response. Data is left as a
// json.RawMessage for DecodeQueryOutput or json.Unmarshal.
func DecodeResponse(data []byte) (*Response, error) {
	var raw struct {
		OK    bool            `json:"ok"`
		Data  json.RawMessage `json:"data"`
		Error *ErrorBody      `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	resp := &Response{OK: raw.OK, Error: raw.Error}
	if len(raw.Data) > 0 {
		resp.Data = raw.Data
	}
	return resp, nil
}

// DecodeQueryOutput parses JSON-encoded run_query data. Integral numbers
// decode as int64 and the rest as float64, matching the encoder.
func DecodeQueryOutput(data []byte) (*QueryOutput, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out QueryOutput
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode query output: %w", err)
	}
	for _, row := range out.Rows {
		for i, v := range row {
			row[i] = decodeNumbers(v)
		}
	}
	return &out, nil
}

func decodeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = decodeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = decodeNumbers(item)
		}
		return val
	default:
		return v
	}
}

// encodedLength returns the character count of the JSON encoding of rows.
func encodedLength(rows [][]any) int {
	b, err := json.Marshal(rows)
	if err != nil {
		return 0
	}
	return utf8.RuneCount(b)
}

// encodeRow converts one driver row to canonical values.
func encodeRow(columns []dialect.ResultColumn, row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		typ := ""
		if i < len(columns) {
			typ = columns[i].Type
		}
		if t, ok := v.(time.Time); ok && typ == "DATE" {
			out[i] = t.Format(time.DateOnly)
			continue
		}
		out[i] = convertValue(v)
	}
	return out
}

// convertValue converts a driver value to a JSON-friendly Go type.
// Integers widen to int64, floats to float64, binary data is base64.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, int64:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint:
		return convertUint(uint64(val))
	case uint64:
		return convertUint(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		us := val.Microseconds
		hours := us / 3_600_000_000
		us -= hours * 3_600_000_000
		minutes := us / 60_000_000
		us -= minutes * 60_000_000
		seconds := us / 1_000_000
		us -= seconds * 1_000_000
		if us > 0 {
			return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
		}
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		parts := []string{}
		if val.Months != 0 {
			years := val.Months / 12
			months := val.Months % 12
			if years != 0 {
				parts = append(parts, fmt.Sprintf("%d year(s)", years))
			}
			if months != 0 {
				parts = append(parts, fmt.Sprintf("%d mon(s)", months))
			}
		}
		if val.Days != 0 {
			parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
		}
		if val.Microseconds != 0 {
			dur := time.Duration(val.Microseconds) * time.Microsecond
			parts = append(parts, dur.String())
		}
		if len(parts) == 0 {
			return "0"
		}
		return strings.Join(parts, " ")
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if val.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case pgtype.Range[any]:
		if !val.Valid {
			return nil
		}
		if val.LowerType == pgtype.Empty {
			return "empty"
		}
		var sb strings.Builder
		if val.LowerType == pgtype.Inclusive {
			sb.WriteByte('[')
		} else {
			sb.WriteByte('(')
		}
		if val.LowerType != pgtype.Unbounded {
			sb.WriteString(fmt.Sprintf("%v", convertValue(val.Lower)))
		}
		sb.WriteByte(',')
		if val.UpperType != pgtype.Unbounded {
			sb.WriteString(fmt.Sprintf("%v", convertValue(val.Upper)))
		}
		if val.UpperType == pgtype.Inclusive {
			sb.WriteByte(']')
		} else {
			sb.WriteByte(')')
		}
		return sb.String()
	case pgtype.Point:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("(%g,%g)", val.P.X, val.P.Y)
	case pgtype.Circle:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("<(%g,%g),%g>", val.P.X, val.P.Y, val.R)
	case pgtype.Box:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("(%g,%g),(%g,%g)", val.P[0].X, val.P[0].Y, val.P[1].X, val.P[1].Y)
	case pgtype.Bits:
		if !val.Valid {
			return nil
		}
		result := make([]byte, val.Len)
		for i := int32(0); i < val.Len; i++ {
			byteIdx := i / 8
			bitIdx := 7 - (i % 8)
			if val.Bytes[byteIdx]&(1<<uint(bitIdx)) != 0 {
				result[i] = '1'
			} else {
				result[i] = '0'
			}
		}
		return string(result)
	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertValue(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertValue(v)
		}
		return result
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}

func convertFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

// convertUint keeps values above math.MaxInt64 exact by rendering them as
// decimal strings.
func convertUint(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}
