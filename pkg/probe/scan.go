package probe

import (
	"encoding/json"
	"errors"
)

var errScanUnsupported = errors.New("probe: scan fell through to full parse")

// scan performs the single linear pass over a top-level JSON object,
// per spec §4.1. It never recurses into nested values beyond what is
// needed to find their end — values of interest are sliced out of body
// by byte range, not reparsed, except "model" and "stream" which are
// cheap scalars decoded in place.
func scan(body []byte) (*Result, error) {
	n := len(body)
	i := skipWS(body, 0)
	if i >= n || body[i] != '{' {
		return nil, errScanUnsupported
	}
	i++

	res := &Result{}
	haveModel := false

	for {
		i = skipWS(body, i)
		if i >= n {
			return nil, errScanUnsupported
		}
		if body[i] == '}' {
			i++
			break
		}
		if body[i] != '"' {
			return nil, errScanUnsupported
		}
		keyStart := i
		keyEnd, err := skipString(body, i)
		if err != nil {
			return nil, errScanUnsupported
		}
		key := body[keyStart+1 : keyEnd-1]

		i = skipWS(body, keyEnd)
		if i >= n || body[i] != ':' {
			return nil, errScanUnsupported
		}
		i = skipWS(body, i+1)
		if i >= n {
			return nil, errScanUnsupported
		}

		valStart := i
		valEnd, err := skipValue(body, i)
		if err != nil {
			return nil, errScanUnsupported
		}
		rng := Range{Start: valStart, End: valEnd}

		switch string(key) {
		case "model":
			var m string
			if err := json.Unmarshal(body[valStart:valEnd], &m); err != nil || m == "" {
				return nil, errScanUnsupported
			}
			res.Model = m
			res.ModelRange = rng
			haveModel = true
		case "stream":
			switch string(body[valStart:valEnd]) {
			case "true":
				res.HasStream, res.Stream = true, true
			case "false":
				res.HasStream, res.Stream = true, false
			case "null":
				// absent-equivalent, per spec §4.7
			default:
				return nil, errScanUnsupported
			}
			res.StreamRange = rng
		case "tools":
			res.ToolsRange = rng
			res.HasTools = isNonEmptyJSONArray(body[valStart:valEnd])
		case "tool_choice":
			res.ChoiceRange = rng
		case "messages":
			res.MsgRange = rng
		}

		i = skipWS(body, valEnd)
		if i >= n {
			return nil, errScanUnsupported
		}
		if body[i] == ',' {
			i++
			continue
		}
		if body[i] == '}' {
			i++
			break
		}
		return nil, errScanUnsupported
	}

	if !haveModel {
		return nil, errScanUnsupported
	}
	return res, nil
}

func isNonEmptyJSONArray(v []byte) bool {
	if len(v) == 0 || v[0] != '[' {
		return false
	}
	i := skipWS(v, 1)
	return i < len(v) && v[i] != ']'
}

func skipWS(body []byte, i int) int {
	n := len(body)
	for i < n {
		switch body[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// skipString expects body[i] == '"' and returns the index just past
// the closing quote.
func skipString(body []byte, i int) (int, error) {
	n := len(body)
	if i >= n || body[i] != '"' {
		return 0, errScanUnsupported
	}
	i++
	for i < n {
		switch body[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, errScanUnsupported
}

// skipValue returns the index just past the JSON value starting at
// body[i], trimming no trailing whitespace (callers already skip ws
// before calling and the returned end sits exactly on the terminating
// byte: closing bracket, or first char not part of a scalar literal).
func skipValue(body []byte, i int) (int, error) {
	n := len(body)
	if i >= n {
		return 0, errScanUnsupported
	}
	switch body[i] {
	case '"':
		return skipString(body, i)
	case '{':
		return skipContainer(body, i, '{', '}')
	case '[':
		return skipContainer(body, i, '[', ']')
	default:
		// number, true, false, null
		start := i
		for i < n {
			switch body[i] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				if i == start {
					return 0, errScanUnsupported
				}
				return i, nil
			default:
				i++
			}
		}
		if i > start {
			return i, nil
		}
		return 0, errScanUnsupported
	}
}

// skipContainer scans a balanced {..}/[..] span, respecting strings so
// literal braces/brackets inside string values don't throw off depth
// counting.
func skipContainer(body []byte, i int, open, close byte) (int, error) {
	n := len(body)
	if i >= n || body[i] != open {
		return 0, errScanUnsupported
	}
	depth := 0
	for i < n {
		switch body[i] {
		case '"':
			end, err := skipString(body, i)
			if err != nil {
				return 0, err
			}
			i = end
			continue
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
		i++
	}
	return 0, errScanUnsupported
}
