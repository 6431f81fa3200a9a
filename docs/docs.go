// Package docs registers the swagger document served at /swagger/index.html.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/api/auth/signup": {
            "post": {
                "tags": ["Auth"],
                "summary": "Регистрация",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "signup", "required": true, "schema": {"$ref": "#/definitions/models.SignupRequest"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Вход в систему",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "login", "required": true, "schema": {"$ref": "#/definitions/models.LoginRequest"}}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Auth"],
                "summary": "Текущий пользователь",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/auth/profile": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Auth"],
                "summary": "Обновить профиль",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "profile", "required": true, "schema": {"$ref": "#/definitions/models.ProfileUpdate"}}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/tasks": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "Список задач",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "priority", "in": "query"},
                    {"type": "string", "name": "search", "in": "query"},
                    {"type": "string", "name": "sortBy", "in": "query"},
                    {"type": "string", "name": "order", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "Создать задачу",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "title", "in": "formData", "required": true},
                    {"type": "string", "name": "description", "in": "formData"},
                    {"type": "string", "name": "status", "in": "formData"},
                    {"type": "string", "name": "priority", "in": "formData"},
                    {"type": "string", "name": "dueDate", "in": "formData"},
                    {"type": "file", "name": "attachments", "in": "formData"}
                ],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/tasks/report": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "PDF-отчёт по задачам",
                "produces": ["application/pdf"],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}}
            }
        },
        "/api/tasks/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "Получить задачу",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "Обновить задачу",
                "consumes": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "task", "required": true, "schema": {"$ref": "#/definitions/handlers.updateTaskRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "Удалить задачу",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/tasks/{id}/attachments/{attachmentId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "Скачать вложение",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "attachmentId", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Tasks"],
                "summary": "Удалить вложение",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "attachmentId", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        }
    },
    "definitions": {
        "models.SignupRequest": {
            "type": "object",
            "required": ["email", "name", "password"],
            "properties": {
                "email": {"type": "string"},
                "name": {"type": "string"},
                "password": {"type": "string", "minLength": 6}
            }
        },
        "models.LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "models.ProfileUpdate": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "name": {"type": "string"},
                "telegramChatId": {"type": "integer"}
            }
        },
        "handlers.updateTaskRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "in-progress", "completed"]},
                "priority": {"type": "string", "enum": ["low", "medium", "high"]},
                "dueDate": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "TaskFlow API",
	Description:      "Personal task manager with file attachments.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
