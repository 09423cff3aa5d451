package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// JSONLParser decodes one JSON object per line, in the record wire format:
// id, service, severity, timestamp, raw_log and ai_summary. message and
// summary are accepted as aliases, and timestamp may be RFC 3339 text or
// Unix seconds.
type JSONLParser struct {
	parsers fastjson.ParserPool
}

// NewJSONLParser creates a JSONLParser.
func NewJSONLParser() *JSONLParser {
	return &JSONLParser{}
}

// Parse decodes line.
func (p *JSONLParser) Parse(line string) (logstore.Record, error) {
	jp := p.parsers.Get()
	defer p.parsers.Put(jp)

	v, err := jp.Parse(line)
	if err != nil {
		return logstore.Record{}, fmt.Errorf("parsing json line: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return logstore.Record{}, errors.New("json line is not an object")
	}

	sev, err := logstore.ParseSeverity(string(v.GetStringBytes("severity")))
	if err != nil {
		return logstore.Record{}, err
	}

	service := string(v.GetStringBytes("service"))
	if service == "" {
		return logstore.Record{}, errors.New("missing service")
	}

	ts, err := timestampOf(v.Get("timestamp"))
	if err != nil {
		return logstore.Record{}, err
	}

	return logstore.Record{
		ID:         v.GetInt64("id"),
		Service:    service,
		Severity:   sev,
		Timestamp:  ts,
		RawMessage: firstString(v, "raw_log", "message"),
		Summary:    firstString(v, "ai_summary", "summary"),
	}, nil
}

func timestampOf(v *fastjson.Value) (time.Time, error) {
	if v == nil {
		return time.Time{}, errors.New("missing timestamp")
	}
	switch v.Type() {
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		ts, err := time.Parse(time.RFC3339Nano, string(b))
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", b, err)
		}
		return ts.UTC(), nil
	case fastjson.TypeNumber:
		secs := v.GetFloat64()
		return time.Unix(0, int64(secs*float64(time.Second))).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("timestamp has type %s", v.Type())
	}
}

func firstString(v *fastjson.Value, keys ...string) string {
	for _, k := range keys {
		if b := v.GetStringBytes(k); len(b) > 0 {
			return string(b)
		}
	}
	return ""
}

// AppendJSONL appends rec to dst as one JSON line in the format JSONLParser reads.
func AppendJSONL(dst []byte, a *fastjson.Arena, rec logstore.Record) []byte {
	o := a.NewObject()
	o.Set("id", a.NewNumberString(strconv.FormatInt(rec.ID, 10)))
	o.Set("service", a.NewString(rec.Service))
	o.Set("severity", a.NewString(string(rec.Severity)))
	o.Set("timestamp", a.NewString(rec.Timestamp.UTC().Format(time.RFC3339Nano)))
	o.Set("raw_log", a.NewString(rec.RawMessage))
	o.Set("ai_summary", a.NewString(rec.Summary))
	dst = o.MarshalTo(dst)
	return append(dst, '\n')
}

// New returns the LineParser for a format name: "text" or "jsonl".
func New(format string, pattern *regexp.Regexp, layout string) (LineParser, error) {
	switch format {
	case "jsonl":
		return NewJSONLParser(), nil
	case "text", "":
		if pattern == nil {
			return nil, errors.New("text format requires a line pattern")
		}
		return NewTextParser(pattern, layout)
	default:
		return nil, fmt.Errorf("unknown line format %q", format)
	}
}
