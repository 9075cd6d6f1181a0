// Package docs registers the OpenAPI document served under /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/api/distribution/v1/process": {
            "post": {
                "summary": "Run one distribution batch",
                "responses": {
                    "200": {"description": "batch summary", "schema": {"$ref": "#/definitions/ProcessBatchResponse"}},
                    "401": {"description": "invalid trigger secret", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "batch already in progress", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "500": {"description": "claim failed", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/api/distribution/v1/payments": {
            "post": {
                "summary": "Enqueue the root job for a settled payment",
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "required": true, "type": "string"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnqueuePaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "job", "schema": {"$ref": "#/definitions/JobResponse"}},
                    "400": {"description": "invalid request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "idempotency conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/api/distribution/v1/jobs/{job_id}": {
            "get": {
                "summary": "Get a distribution job",
                "parameters": [{"name": "job_id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "job", "schema": {"$ref": "#/definitions/JobResponse"}},
                    "404": {"description": "not found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/api/distribution/v1/jobs/{job_id}/requeue": {
            "post": {
                "summary": "Requeue a failed job",
                "parameters": [{"name": "job_id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "job", "schema": {"$ref": "#/definitions/JobResponse"}},
                    "404": {"description": "not found", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "job is not failed", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/api/distribution/v1/jobs/reset-stale": {
            "post": {
                "summary": "Return stuck processing jobs to pending",
                "parameters": [{"name": "body", "in": "body", "schema": {"$ref": "#/definitions/ResetStaleRequest"}}],
                "responses": {
                    "200": {"description": "reset count", "schema": {"$ref": "#/definitions/ResetStaleResponse"}}
                }
            }
        },
        "/api/distribution/v1/cascades/{source_ref}": {
            "get": {
                "summary": "Jobs, ledger entries and totals of one cascade",
                "parameters": [{"name": "source_ref", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "cascade"},
                    "404": {"description": "not found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/api/distribution/v1/identifiers/{identifier}/balances": {
            "get": {
                "summary": "Settlement balances of one identifier",
                "parameters": [
                    {"name": "identifier", "in": "path", "required": true, "type": "string"},
                    {"name": "asset", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "balances"},
                    "503": {"description": "settlement offline", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
        },
        "ProcessBatchResponse": {
            "type": "object",
            "properties": {
                "processed": {"type": "integer"},
                "succeeded": {"type": "integer"},
                "failed": {"type": "integer"},
                "enqueued": {"type": "integer"},
                "skipped": {"type": "integer"}
            }
        },
        "EnqueuePaymentRequest": {
            "type": "object",
            "properties": {
                "source_ref": {"type": "string"},
                "identifier": {"type": "string"},
                "asset": {"type": "string"},
                "payer": {"type": "string"},
                "amount": {"type": "integer"},
                "amount_display": {"type": "string"}
            }
        },
        "JobResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "replayed": {"type": "boolean"},
                "data": {"type": "object"}
            }
        },
        "ResetStaleRequest": {
            "type": "object",
            "properties": {"older_than": {"type": "string"}}
        },
        "ResetStaleResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}, "reset": {"type": "integer"}}
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "splitflow distribution API",
	Description:      "Cascading distribution queue trigger, payment hook and operator endpoints.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
