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
	"paths": {
		"/api/v1/connect": {
			"post": {
				"description": "Fetches the app manifest and queues a connect proposal for the wallet.",
				"consumes": [
					"application/json"
				],
				"tags": [
					"connect"
				],
				"summary": "Open a TON Connect link",
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/models.PendingRequest"
						}
					}
				}
			}
		},
		"/api/v1/events": {
			"get": {
				"description": "Streams mailbox changes as server-sent events. The first event lists the requests already waiting.",
				"produces": [
					"text/event-stream"
				],
				"tags": [
					"requests"
				],
				"summary": "Pending request feed",
				"responses": {}
			}
		},
		"/api/v1/orders": {
			"get": {
				"tags": [
					"multisig"
				],
				"summary": "Get a multisig order",
				"parameters": [
					{
						"type": "string",
						"description": "order address",
						"name": "address",
						"in": "query",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/models.Order"
						}
					}
				}
			}
		},
		"/api/v1/orders/estimate": {
			"get": {
				"description": "Executed orders report what actually happened, pending ones what would happen now.",
				"tags": [
					"multisig"
				],
				"summary": "Estimate an existing order",
				"parameters": [
					{
						"type": "string",
						"description": "order address",
						"name": "address",
						"in": "query",
						"required": true
					}
				],
				"responses": {}
			}
		},
		"/api/v1/orders/sign": {
			"post": {
				"consumes": [
					"application/json"
				],
				"tags": [
					"multisig"
				],
				"summary": "Approve a multisig order",
				"responses": {}
			}
		},
		"/api/v1/orders/wait/deployed": {
			"get": {
				"tags": [
					"multisig"
				],
				"summary": "Wait until an order is deployed",
				"parameters": [
					{
						"type": "string",
						"description": "multisig address",
						"name": "multisig",
						"in": "query",
						"required": true
					},
					{
						"type": "integer",
						"description": "order seqno",
						"name": "seqno",
						"in": "query",
						"required": true
					}
				],
				"responses": {}
			}
		},
		"/api/v1/orders/wait/executed": {
			"get": {
				"tags": [
					"multisig"
				],
				"summary": "Wait until an order is executed",
				"parameters": [
					{
						"type": "string",
						"description": "order address",
						"name": "address",
						"in": "query",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/models.Order"
						}
					}
				}
			}
		},
		"/api/v1/requests": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"requests"
				],
				"summary": "List pending requests",
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "array",
							"items": {
								"$ref": "#/definitions/models.PendingRequest"
							}
						}
					}
				}
			}
		},
		"/api/v1/requests/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"requests"
				],
				"summary": "Get a pending request",
				"parameters": [
					{
						"type": "string",
						"description": "request id",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/models.PendingRequest"
						}
					}
				}
			}
		},
		"/api/v1/requests/{id}/choices": {
			"get": {
				"description": "The preferred choice comes first.",
				"tags": [
					"requests"
				],
				"summary": "Sender choices of a transaction request",
				"responses": {}
			}
		},
		"/api/v1/requests/{id}/confirm": {
			"post": {
				"description": "Connect requests create the session, signData requests are signed, transactions are sent with the given choice.\ndelivered is false when the app could not be answered; the request is still approved and must not be retried.",
				"consumes": [
					"application/json"
				],
				"tags": [
					"requests"
				],
				"summary": "Approve a pending request",
				"responses": {}
			}
		},
		"/api/v1/requests/{id}/decline": {
			"post": {
				"description": "The app is answered with a user rejection.",
				"tags": [
					"requests"
				],
				"summary": "Decline a pending request",
				"parameters": [
					{
						"type": "string",
						"description": "request id",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {}
			}
		},
		"/api/v1/requests/{id}/estimate": {
			"post": {
				"consumes": [
					"application/json"
				],
				"tags": [
					"requests"
				],
				"summary": "Estimate a transaction request",
				"responses": {}
			}
		},
		"/api/v1/sessions/{session}": {
			"delete": {
				"tags": [
					"sessions"
				],
				"summary": "Disconnect one app",
				"parameters": [
					{
						"type": "string",
						"description": "client session id",
						"name": "session",
						"in": "path",
						"required": true
					}
				],
				"responses": {}
			}
		},
		"/api/v1/wallets/{id}/orders": {
			"post": {
				"description": "The wallet is a multisig account. The order is proposed from its local signer wallet.",
				"consumes": [
					"application/json"
				],
				"tags": [
					"multisig"
				],
				"summary": "Propose a multisig order",
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/models.Order"
						}
					}
				}
			}
		},
		"/api/v1/wallets/{id}/sessions": {
			"delete": {
				"tags": [
					"sessions"
				],
				"summary": "Disconnect every app of a wallet",
				"responses": {}
			}
		},
		"/api/v1/wallets/{id}/transfers/choices": {
			"post": {
				"consumes": [
					"application/json"
				],
				"tags": [
					"transfers"
				],
				"summary": "Sender choices of a local transfer",
				"responses": {}
			}
		},
		"/api/v1/wallets/{id}/transfers/estimate": {
			"post": {
				"description": "The returned id is sent back to /transfers/send.",
				"consumes": [
					"application/json"
				],
				"tags": [
					"transfers"
				],
				"summary": "Estimate a local transfer",
				"responses": {}
			}
		},
		"/api/v1/wallets/{id}/transfers/send": {
			"post": {
				"consumes": [
					"application/json"
				],
				"tags": [
					"transfers"
				],
				"summary": "Send an estimated local transfer",
				"responses": {}
			}
		},
		"/healthz": {
			"get": {
				"description": "Checks Redis and the bridge subscription. A bridge with no sessions to follow is idle and healthy.",
				"produces": [
					"application/json"
				],
				"tags": [
					"health"
				],
				"summary": "Health check",
				"responses": {}
			}
		}
	},
	"definitions": {
		"models.ConnectItem": {
			"type": "object",
			"properties": {
				"name": {
					"type": "string"
				},
				"payload": {
					"type": "string"
				}
			}
		},
		"models.ConnectRequest": {
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/models.ConnectItem"
					}
				},
				"manifestUrl": {
					"type": "string"
				}
			}
		},
		"models.Manifest": {
			"type": "object",
			"properties": {
				"iconUrl": {
					"type": "string"
				},
				"name": {
					"type": "string"
				},
				"url": {
					"type": "string"
				}
			}
		},
		"models.Network": {
			"type": "string",
			"enum": [
				"-239",
				"-3"
			],
			"x-enum-varnames": [
				"NetworkMainnet",
				"NetworkTestnet"
			]
		},
		"models.Order": {
			"type": "object",
			"properties": {
				"actions": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/models.OrderAction"
					}
				},
				"address": {
					"type": "string"
				},
				"approvals": {
					"type": "array",
					"items": {
						"type": "integer"
					}
				},
				"multisig_address": {
					"type": "string"
				},
				"order_seqno": {
					"type": "integer"
				},
				"signers": {
					"type": "array",
					"items": {
						"type": "string"
					}
				},
				"state": {
					"allOf": [
						{
							"$ref": "#/definitions/models.OrderState"
						}
					]
				},
				"threshold": {
					"type": "integer"
				},
				"valid_until": {
					"type": "integer"
				}
			}
		},
		"models.OrderAction": {
			"type": "object",
			"properties": {
				"body": {
					"type": "array",
					"items": {
						"type": "integer"
					}
				},
				"destination": {
					"type": "string"
				},
				"jetton_amount": {
					"type": "string"
				},
				"recipient": {
					"type": "string"
				},
				"send_mode": {
					"type": "integer"
				},
				"type": {
					"type": "string"
				},
				"value": {
					"type": "string"
				}
			}
		},
		"models.OrderState": {
			"type": "string",
			"enum": [
				"pending",
				"sent_for_execution",
				"executed",
				"failed"
			],
			"x-enum-varnames": [
				"OrderPending",
				"OrderSent",
				"OrderExecuted",
				"OrderFailed"
			]
		},
		"models.PendingRequest": {
			"type": "object",
			"properties": {
				"client_session_id": {
					"type": "string"
				},
				"connect": {
					"$ref": "#/definitions/models.ConnectRequest"
				},
				"created_at": {
					"type": "string"
				},
				"id": {
					"type": "string"
				},
				"manifest": {
					"$ref": "#/definitions/models.Manifest"
				},
				"method": {
					"allOf": [
						{
							"$ref": "#/definitions/models.RequestKind"
						}
					]
				},
				"rpc_id": {
					"type": "string"
				},
				"sign_data": {
					"$ref": "#/definitions/models.SignDataRequest"
				},
				"transaction": {
					"$ref": "#/definitions/models.TransactionRequest"
				},
				"wallet_id": {
					"type": "string"
				}
			}
		},
		"models.RequestKind": {
			"type": "string",
			"enum": [
				"connect",
				"sendTransaction",
				"signData"
			],
			"x-enum-varnames": [
				"KindConnect",
				"KindSendTransaction",
				"KindSignData"
			]
		},
		"models.SignDataRequest": {
			"type": "object",
			"properties": {
				"bytes": {
					"type": "string"
				},
				"cell": {
					"type": "string"
				},
				"from": {
					"type": "string"
				},
				"schema": {
					"type": "string"
				},
				"text": {
					"type": "string"
				},
				"type": {
					"type": "string"
				}
			}
		},
		"models.TransactionMessage": {
			"type": "object",
			"properties": {
				"address": {
					"type": "string"
				},
				"amount": {
					"type": "string"
				},
				"payload": {
					"type": "string"
				},
				"stateInit": {
					"type": "string"
				}
			}
		},
		"models.TransactionRequest": {
			"type": "object",
			"properties": {
				"from": {
					"type": "string"
				},
				"messages": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/models.TransactionMessage"
					}
				},
				"network": {
					"allOf": [
						{
							"$ref": "#/definitions/models.Network"
						}
					]
				},
				"valid_until": {
					"type": "integer"
				}
			}
		}
	}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "TON Dispatch",
	Description:      "Answers TON Connect requests for local wallets and coordinates multisig orders.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
