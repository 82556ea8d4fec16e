package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Ticket Match Backend",
    "description": "Allocates support tickets to available ambassadors and records why",
    "version": "1.0"
  },
  "basePath": "/",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
  },
  "paths": {
    "/healthz": {
      "get": {"tags": ["health"], "summary": "Database ping", "responses": {"200": {"description": "ok"}, "503": {"description": "database unavailable"}}}
    },
    "/api/tickets": {
      "get": {
        "tags": ["tickets"],
        "summary": "List tickets with their assignment status",
        "parameters": [
          {"name": "status", "in": "query", "type": "string", "description": "Assigned, Unassigned, Closed or Pending"},
          {"name": "q", "in": "query", "type": "string"},
          {"name": "limit", "in": "query", "type": "integer"},
          {"name": "offset", "in": "query", "type": "integer"}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/api/tickets/{id}": {
      "get": {"tags": ["tickets"], "summary": "Ticket with its ledger row", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}}
    },
    "/api/tickets/{id}/release": {
      "post": {"tags": ["tickets"], "summary": "Close an assigned ticket and free the ambassador slot", "security": [{"AdminKey": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}, "409": {"description": "not assigned"}}}
    },
    "/api/ambassadors": {
      "get": {"tags": ["ambassadors"], "summary": "List ambassadors", "parameters": [{"name": "lob", "in": "query", "type": "string"}, {"name": "language", "in": "query", "type": "string"}], "responses": {"200": {"description": "ok"}}}
    },
    "/api/runs/latest": {
      "get": {"tags": ["runs"], "summary": "Latest run summary", "responses": {"200": {"description": "ok"}, "404": {"description": "no runs"}}}
    },
    "/api/import": {
      "post": {
        "tags": ["import"],
        "summary": "Replace tickets, ambassadors and shifts from CSV uploads in one transaction",
        "description": "Duplicate case numbers or ambassador ids reject the upload. With LLM_ENRICH set, tickets missing urgency or primary product are analyzed first.",
        "security": [{"AdminKey": []}],
        "consumes": ["multipart/form-data"],
        "parameters": [
          {"name": "tickets", "in": "formData", "required": true, "type": "file"},
          {"name": "ambassadors", "in": "formData", "required": true, "type": "file"},
          {"name": "shifts", "in": "formData", "required": true, "type": "file"}
        ],
        "responses": {"200": {"description": "import summary"}, "400": {"description": "csv problems"}}
      }
    },
    "/api/process": {
      "post": {
        "tags": ["process"],
        "summary": "Run an assignment pass",
        "security": [{"AdminKey": []}],
        "parameters": [{"name": "request", "in": "body", "schema": {"type": "object", "properties": {"strategy": {"type": "string", "enum": ["score", "llm"]}, "at": {"type": "string", "format": "date-time"}, "debug": {"type": "boolean"}}}}],
        "responses": {"200": {"description": "run summary"}, "400": {"description": "invalid request"}}
      }
    },
    "/api/debug/candidates": {
      "get": {
        "tags": ["debug"],
        "summary": "Score every ambassador against one ticket",
        "security": [{"AdminKey": []}],
        "parameters": [{"name": "ticket_id", "in": "query", "required": true, "type": "string"}, {"name": "at", "in": "query", "type": "string", "format": "date-time"}],
        "responses": {"200": {"description": "breakdown"}, "404": {"description": "unknown ticket"}}
      }
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
