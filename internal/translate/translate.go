// package translate defines the contract of the format-conversion library
// that maps between the three federated wire encodings and the unified
// representation the bridge reasons about.
//
// The semantic mapping itself is a collaborator; the bridge consumes it
// through the Translator interface and only depends on the structural
// guarantees documented here. The unified representation is a plain JSON
// object with, at minimum, "id", "url", "objectType", "verb", "object",
// "inReplyTo" and "actor" fields where the source document carries them.
package translate

import (
	"errors"
	"fmt"
)

// Encoding identifies which wire encoding a document is in.
type Encoding string

const (
	// EncodingActivity is the fediverse activity encoding (AS2 JSON).
	EncodingActivity Encoding = "activitypub"
	// EncodingRecord is the repo-record encoding of the adjacent protocol.
	EncodingRecord Encoding = "record"
	// EncodingMicroformat is the microformat item parsed from an HTML page.
	EncodingMicroformat Encoding = "microformat"
)

// Translator converts between wire encodings and the unified representation.
// Implementations must be pure: same input, same output, no I/O.
type Translator interface {
	// Unify converts a document in the given wire encoding to the unified
	// representation.
	Unify(enc Encoding, doc map[string]any) (map[string]any, error)
	// Render converts a unified document to the given wire encoding.
	Render(enc Encoding, doc map[string]any) (map[string]any, error)
	// FromHTML extracts the primary entry of an HTML page as a unified
	// document. url is the page's resolved URL.
	FromHTML(url string, body []byte) (map[string]any, error)
}

// ObjectType returns a unified document's type: its verb if it is an
// activity, otherwise its objectType. Empty when neither is set.
func ObjectType(doc map[string]any) string {
	if doc == nil {
		return ""
	}
	if verb, _ := doc["verb"].(string); verb != "" {
		return verb
	}
	typ, _ := doc["objectType"].(string)
	return typ
}

// IsActivity reports whether a unified document is an activity wrapper
// around an inner object, as opposed to a bare object.
func IsActivity(doc map[string]any) bool {
	if typ, _ := doc["objectType"].(string); typ == "activity" {
		return true
	}
	verb, _ := doc["verb"].(string)
	return verb != ""
}

// activityTypes are the unified types that name activities rather than
// bare objects.
var activityTypes = map[string]bool{
	"post": true, "update": true, "delete": true, "follow": true,
	"accept": true, "undo": true, "like": true, "share": true,
	"activity": true,
}

// IsActivityType reports whether a unified type string names an activity.
func IsActivityType(typ string) bool {
	return activityTypes[typ]
}

// InnerObjectIDs returns the ids of a unified document's inner objects.
func InnerObjectIDs(doc map[string]any) []string {
	var ids []string
	for _, obj := range Values(doc, "object") {
		switch obj := obj.(type) {
		case string:
			if obj != "" {
				ids = append(ids, obj)
			}
		case map[string]any:
			if id, _ := obj["id"].(string); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// ContentChanged reports whether the user-visible content of two unified
// documents differs. Used to decide whether an already delivered item must
// be redelivered as an update.
func ContentChanged(prev, next map[string]any) bool {
	return contentOf(prev) != contentOf(next)
}

func contentOf(doc map[string]any) string {
	if doc == nil {
		return ""
	}
	subject := doc
	if inner, ok := doc["object"].(map[string]any); ok {
		subject = inner
	}
	content, _ := subject["content"].(string)
	name, _ := subject["displayName"].(string)
	summary, _ := subject["summary"].(string)
	return content + "\x00" + name + "\x00" + summary
}

// Values returns the value(s) of a field that may be single or repeated.
func Values(doc map[string]any, field string) []any {
	if doc == nil {
		return nil
	}
	switch v := doc[field].(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

// URLs returns the URL strings found in a field whose values may be plain
// strings or objects carrying url/id properties.
func URLs(doc map[string]any, field string) []string {
	var urls []string
	for _, v := range Values(doc, field) {
		switch v := v.(type) {
		case string:
			if v != "" {
				urls = append(urls, v)
			}
		case map[string]any:
			if u, _ := v["url"].(string); u != "" {
				urls = append(urls, u)
			} else if id, _ := v["id"].(string); id != "" {
				urls = append(urls, id)
			}
		}
	}
	return urls
}

// FirstURL returns the first URL in the field, or "".
func FirstURL(doc map[string]any, field string) string {
	if urls := URLs(doc, field); len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// ErrUnsupported is returned by translators for conversions they do not
// implement.
var ErrUnsupported = errors.New("translate: unsupported conversion")

// Unsupported wraps ErrUnsupported with detail.
func Unsupported(enc Encoding, what string) error {
	return fmt.Errorf("%w: %s %s", ErrUnsupported, what, enc)
}
