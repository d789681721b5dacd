package core

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// KeyPolicy decides what happens to raw message keys outside the field table.
type KeyPolicy string

const (
	// KeyPolicyPassThrough keeps unknown keys verbatim in Message.Extra.
	KeyPolicyPassThrough KeyPolicy = "passthrough"

	// KeyPolicyReject fails decoding on the first unknown key.
	KeyPolicyReject KeyPolicy = "reject"
)

// Valid checks if the policy is supported.
func (p KeyPolicy) Valid() bool {
	return p == KeyPolicyPassThrough || p == KeyPolicyReject
}

// fieldTable maps every accepted raw key to its canonical camelCase name.
var fieldTable = map[string]string{
	"to":                    "to",
	"cc":                    "cc",
	"bcc":                   "bcc",
	"from":                  "from",
	"replyTo":               "replyTo",
	"reply_to":              "replyTo",
	"subject":               "subject",
	"text":                  "text",
	"html":                  "html",
	"templatePath":          "templatePath",
	"template_path":         "templatePath",
	"templateId":            "templateId",
	"templateID":            "templateId",
	"template_id":           "templateId",
	"dynamicTemplateData":   "dynamicTemplateData",
	"dynamic_template_data": "dynamicTemplateData",
	"categories":            "categories",
	"headers":               "headers",
	"customArgs":            "customArgs",
	"custom_args":           "customArgs",
	"sendAt":                "sendAt",
	"send_at":               "sendAt",
}

// CanonicalKey returns the camelCase name for a raw key and whether the key
// is part of the field table.
func CanonicalKey(key string) (string, bool) {
	canonical, ok := fieldTable[key]
	return canonical, ok
}

// NormalizeKeys rewrites the top-level keys of raw to their canonical names.
// Unknown keys are returned separately, untouched.
func NormalizeKeys(raw map[string]any, policy KeyPolicy) (known, unknown map[string]any, err error) {
	known = make(map[string]any, len(raw))
	source := make(map[string]string, len(raw))

	// Sorted so duplicate-key errors are deterministic.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		canonical, ok := CanonicalKey(k)
		if !ok {
			if policy == KeyPolicyReject {
				return nil, nil, NewValidationErrorWithValue(k, "unrecognized message field", raw[k])
			}
			if unknown == nil {
				unknown = make(map[string]any)
			}
			unknown[k] = raw[k]
			continue
		}
		if prev, dup := source[canonical]; dup {
			return nil, nil, NewValidationError(canonical, fmt.Sprintf("set by both %q and %q", prev, k))
		}
		source[canonical] = k
		known[canonical] = raw[k]
	}

	return known, unknown, nil
}

// DecodeMessage turns a loosely keyed map (snake_case or camelCase) into a
// Message.
func DecodeMessage(raw map[string]any, policy KeyPolicy) (*Message, error) {
	if !policy.Valid() {
		return nil, NewValidationErrorWithValue("key_policy", "unsupported key policy", string(policy))
	}

	known, unknown, err := NormalizeKeys(raw, policy)
	if err != nil {
		return nil, err
	}

	msg := &Message{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       addressDecodeHook,
		Result:           msg,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create message decoder: %w", err)
	}

	if err := decoder.Decode(known); err != nil {
		return nil, NewValidationErrorWithValue("message", "failed to decode message", err.Error())
	}

	msg.Extra = unknown
	return msg, nil
}

var (
	addressType      = reflect.TypeOf(Address{})
	addressSliceType = reflect.TypeOf([]Address{})
)

// addressDecodeHook accepts "user@example.com" or "Name <user@example.com>"
// wherever an Address is expected, and a single address where a list is.
func addressDecodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() == reflect.String {
		switch to {
		case addressType:
			addr, err := ParseAddress(reflect.ValueOf(data).String())
			if err != nil {
				return nil, err
			}
			return addr, nil
		case addressSliceType:
			return []interface{}{data}, nil
		}
	}

	if from.Kind() == reflect.Map && to == addressSliceType {
		return []interface{}{data}, nil
	}

	return data, nil
}
