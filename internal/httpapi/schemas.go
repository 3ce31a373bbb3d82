package httpapi

import (
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request bodies are validated against JSON Schemas before any field is
// read, so handlers can assume shape and only enforce business rules.
var (
	userCreateSchema = mustCompileSchema("user_create.json", `{
		"type": "object",
		"required": ["email"],
		"properties": {
			"email": {"type": "string", "minLength": 3}
		}
	}`)

	roleChangeSchema = mustCompileSchema("role_change.json", `{
		"type": "object",
		"required": ["user_id", "role"],
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"role": {"enum": ["user", "superadmin"]}
		}
	}`)

	accessChangeSchema = mustCompileSchema("access_change.json", `{
		"type": "object",
		"required": ["user_id", "workflow_id"],
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"workflow_id": {"type": "string", "minLength": 1}
		}
	}`)

	accessBulkSchema = mustCompileSchema("access_bulk.json", `{
		"type": "object",
		"required": ["user_id", "workflow_ids"],
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"workflow_ids": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string", "minLength": 1}
			}
		}
	}`)

	instanceCreateSchema = mustCompileSchema("instance_create.json", `{
		"type": "object",
		"required": ["name", "base_url", "api_key"],
		"properties": {
			"identifier": {"type": "string"},
			"name": {"type": "string", "minLength": 1},
			"base_url": {"type": "string", "minLength": 1},
			"api_key": {"type": "string", "minLength": 1},
			"active": {"type": "boolean"}
		}
	}`)

	instanceUpdateSchema = mustCompileSchema("instance_update.json", `{
		"type": "object",
		"properties": {
			"identifier": {"type": "string"},
			"name": {"type": "string", "minLength": 1},
			"base_url": {"type": "string", "minLength": 1},
			"api_key": {"type": "string", "minLength": 1},
			"active": {"type": "boolean"}
		}
	}`)
)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(err)
	}
	return compiler.MustCompile(name)
}

// decodeValidated parses the request body and validates it against schema.
// On failure it writes the 400 response and returns ok=false.
func decodeValidated(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema) (map[string]any, bool) {
	value, err := jsonschema.UnmarshalJSON(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return nil, false
	}
	if err := schema.Validate(value); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, false
	}
	raw, ok := value.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "expected json object")
		return nil, false
	}
	return raw, true
}
