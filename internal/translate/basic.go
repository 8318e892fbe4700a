package translate

// Basic is a structural translator for the fediverse activity encoding. It
// maps the activity vocabulary the bridge routes on and passes every other
// property through untouched. Deployments that bridge the record or
// microformat encodings inject a full conversion library instead.
type Basic struct{}

var _ Translator = Basic{}

// verbs maps activity types to unified verbs.
var verbs = map[string]string{
	"Create":   "post",
	"Update":   "update",
	"Delete":   "delete",
	"Follow":   "follow",
	"Accept":   "accept",
	"Undo":     "undo",
	"Like":     "like",
	"Announce": "share",
}

// objectTypes maps non-activity types to unified objectTypes.
var objectTypes = map[string]string{
	"Note":    "note",
	"Article": "article",
	"Person":  "person",
	"Service": "person",
	"Image":   "image",
	"Video":   "video",
}

func (Basic) Unify(enc Encoding, doc map[string]any) (map[string]any, error) {
	if enc != EncodingActivity {
		return nil, Unsupported(enc, "unify from")
	}
	return unify(doc), nil
}

func unify(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "@context" || k == "type" {
			continue
		}
		if inner, ok := v.(map[string]any); ok && (k == "object" || k == "actor" || k == "target") {
			out[k] = unify(inner)
			continue
		}
		out[k] = v
	}
	typ, _ := doc["type"].(string)
	if verb, ok := verbs[typ]; ok {
		out["objectType"] = "activity"
		out["verb"] = verb
		return out
	}
	if ot, ok := objectTypes[typ]; ok {
		if ot == "note" && doc["inReplyTo"] != nil {
			ot = "comment"
		}
		out["objectType"] = ot
		return out
	}
	if typ != "" {
		out["objectType"] = typ
	}
	return out
}

func (Basic) Render(enc Encoding, doc map[string]any) (map[string]any, error) {
	if enc != EncodingActivity {
		return nil, Unsupported(enc, "render to")
	}
	return render(doc), nil
}

func render(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		if k == "objectType" || k == "verb" {
			continue
		}
		if inner, ok := v.(map[string]any); ok && (k == "object" || k == "actor" || k == "target") {
			out[k] = render(inner)
			continue
		}
		out[k] = v
	}
	out["@context"] = "https://www.w3.org/ns/activitystreams"
	if typ := activityType(doc); typ != "" {
		out["type"] = typ
	}
	return out
}

// verbTypes and objectTypeTypes are the inverse mappings, kept explicit so
// rendering is deterministic.
var verbTypes = map[string]string{
	"post":   "Create",
	"update": "Update",
	"delete": "Delete",
	"follow": "Follow",
	"accept": "Accept",
	"undo":   "Undo",
	"like":   "Like",
	"share":  "Announce",
}

var objectTypeTypes = map[string]string{
	"note":    "Note",
	"comment": "Note",
	"article": "Article",
	"person":  "Person",
	"image":   "Image",
	"video":   "Video",
}

func activityType(doc map[string]any) string {
	if verb, _ := doc["verb"].(string); verb != "" {
		if typ, ok := verbTypes[verb]; ok {
			return typ
		}
	}
	ot, _ := doc["objectType"].(string)
	if typ, ok := objectTypeTypes[ot]; ok {
		return typ
	}
	if ot != "" && ot != "activity" {
		return ot
	}
	return ""
}

// FromHTML is not implemented by the structural translator; extracting
// microformat entries from markup belongs to the full conversion library.
func (Basic) FromHTML(url string, body []byte) (map[string]any, error) {
	return nil, Unsupported(EncodingMicroformat, "extract from HTML for")
}
