package bus

import "encoding/json"

// String walks nested objects along path and returns the string at the leaf.
func (p Payload) String(path ...string) (string, bool) {
	v, ok := p.lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool walks nested objects along path and returns the bool at the leaf.
func (p Payload) Bool(path ...string) (bool, bool) {
	v, ok := p.lookup(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Object walks nested objects along path and returns the object at the leaf.
func (p Payload) Object(path ...string) (Payload, bool) {
	v, ok := p.lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return Payload(m), ok
}

func (p Payload) lookup(path []string) (any, bool) {
	var current any = map[string]any(p)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// marshalParams serializes call parameters, substituting the empty object
// when params is nil.
func marshalParams(params Params) []byte {
	if params == nil {
		return []byte("{}")
	}
	body, err := json.Marshal(map[string]any(params))
	if err != nil {
		return []byte("{}")
	}
	return body
}

// decodeObject parses a payload and requires it to be a JSON object.
func decodeObject(payload []byte) (Payload, error) {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, newError("decode", "", err.Error(), ErrParse)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, newError("decode", "", "reply is not a JSON object", ErrParse)
	}
	return Payload(obj), nil
}
