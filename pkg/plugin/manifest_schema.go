package plugin

// ManifestSchema is the JSON Schema for plugin manifest validation
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "main", "permissions"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Human-readable plugin name, also the source of the plugin id"
    },
    "version": {
      "type": "string",
      "minLength": 1,
      "description": "Semver version"
    },
    "author": {
      "type": "string",
      "description": "Plugin author"
    },
    "main": {
      "type": "string",
      "minLength": 1,
      "description": "Entry code path, relative to the plugin id prefix"
    },
    "permissions": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "d1Read": { "type": "boolean" },
        "d1Write": { "type": "boolean" },
        "r2Read": { "type": "boolean" },
        "r2Write": { "type": "boolean" },
        "externalFetch": { "type": "boolean" }
      }
    }
  }
}`
