package oauth

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Format selects the wire encoding of token endpoint bodies. The set is
// closed: a format parameter naming anything else fails with invalid_request
// before any flow runs. Selection precedence is the format request
// parameter, then the endpoint's configured default, then JSON; the Accept
// header plays no part.
type Format string

const (
	FormatJSON           Format = "json"
	FormatXML            Format = "xml"
	FormatFormURLEncoded Format = "form_urlencoded"
)

// ParseFormat maps a format request parameter onto the closed enum.
func ParseFormat(s string) (Format, *Error) {
	switch Format(s) {
	case FormatJSON, FormatXML, FormatFormURLEncoded:
		return Format(s), nil
	default:
		return "", ErrInvalidRequest(fmt.Sprintf("unknown format %q", s))
	}
}

// Valid reports whether f is a member of the closed enum.
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatXML, FormatFormURLEncoded:
		return true
	default:
		return false
	}
}

// ContentType returns the MIME type the format is served with.
func (f Format) ContentType() string {
	switch f {
	case FormatXML:
		return "application/xml"
	case FormatFormURLEncoded:
		return "application/x-www-form-urlencoded"
	default:
		return "application/json"
	}
}

// MarshalResponse encodes a flat response value (token response, device
// authorization response, or error response) in the format. Field order is
// the struct's declaration order in every encoding.
func MarshalResponse(f Format, v any) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(v)

	case FormatXML:
		pairs, err := flattenResponse(v)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.WriteString("<response>")
		for _, p := range pairs {
			buf.WriteByte('<')
			buf.WriteString(p[0])
			buf.WriteByte('>')
			if err := xml.EscapeText(&buf, []byte(p[1])); err != nil {
				return nil, err
			}
			buf.WriteString("</")
			buf.WriteString(p[0])
			buf.WriteByte('>')
		}
		buf.WriteString("</response>")
		return buf.Bytes(), nil

	case FormatFormURLEncoded:
		pairs, err := flattenResponse(v)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		for i, p := range pairs {
			if i > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(p[0])
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(p[1]))
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unknown format %q", string(f))
	}
}

// UnmarshalResponse decodes a formatted body back into name→value pairs.
// Together with MarshalResponse it gives the round-trip guarantee: every
// flat response survives encode/decode with its field values intact.
func UnmarshalResponse(f Format, data []byte) (map[string]string, error) {
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("malformed json response: %w", err)
		}
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			s, err := scalarString(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = s
		}
		return out, nil

	case FormatXML:
		dec := xml.NewDecoder(bytes.NewReader(data))
		// Skip to the root element.
		for {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("malformed xml response: %w", err)
			}
			if _, ok := tok.(xml.StartElement); ok {
				break
			}
		}
		out := make(map[string]string)
		for {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("malformed xml response: %w", err)
			}
			switch t := tok.(type) {
			case xml.StartElement:
				var val string
				if err := dec.DecodeElement(&val, &t); err != nil {
					return nil, fmt.Errorf("malformed xml response: %w", err)
				}
				out[t.Name.Local] = val
			case xml.EndElement:
				return out, nil
			}
		}

	case FormatFormURLEncoded:
		values, err := url.ParseQuery(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("malformed form response: %w", err)
		}
		out := make(map[string]string, len(values))
		for k, vs := range values {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown format %q", string(f))
	}
}

// flattenResponse turns a response struct into ordered name→string pairs by
// walking its JSON encoding token by token, which preserves field order and
// honors omitempty.
func flattenResponse(v any) ([][2]string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("response must be a flat object")
	}

	var pairs [][2]string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("response must be a flat object")
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		s, err := scalarString(valTok)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		pairs = append(pairs, [2]string{key, s})
	}
	return pairs, nil
}

// scalarString renders a decoded JSON scalar as its wire string.
func scalarString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("value is not a scalar")
	}
}
