package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const networkSchema = `{"type": "string", "enum": ["mainnet", "testnet", "regtest", "signet"]}`

var configSchema = gojsonschema.NewStringLoader(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["server", "lightning", "payment_limits", "advanced", "storage"],
  "properties": {
    "server": {
      "type": "object",
      "properties": {
        "host": {"type": "string", "minLength": 1},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "name": {"type": "string", "minLength": 1},
        "version": {"type": "string"},
        "transport": {"type": "string", "enum": ["http", "stdio"]},
        "log_level": {"type": "integer", "minimum": 0, "maximum": 6}
      }
    },
    "lightning": {
      "type": "object",
      "required": ["implementation"],
      "properties": {
        "implementation": {
          "type": "string",
          "enum": ["lnd", "c-lightning", "eclair", "external"]
        },
        "connection": {
          "type": "object",
          "properties": {
            "lnd": {
              "type": "object",
              "properties": {
                "rpc_server": {"type": "string"},
                "tls_cert_path": {"type": "string"},
                "macaroon_path": {"type": "string"},
                "network": ` + networkSchema + `
              }
            },
            "c-lightning": {
              "type": "object",
              "properties": {
                "socket_path": {"type": "string"},
                "network": ` + networkSchema + `
              }
            },
            "external": {
              "type": "object",
              "properties": {
                "host": {"type": "string"},
                "port": {"type": "integer", "minimum": 0, "maximum": 65535},
                "tls_cert_path": {"type": "string"},
                "macaroon_path": {"type": "string"},
                "network": ` + networkSchema + `
              }
            }
          }
        }
      }
    },
    "payment_limits": {
      "type": "object",
      "properties": {
        "min_payment_sat": {"type": "integer", "minimum": 0},
        "max_payment_sat": {"type": "integer", "minimum": 0},
        "daily_outbound_limit_sat": {"type": "integer", "minimum": 0}
      }
    },
    "advanced": {
      "type": "object",
      "properties": {
        "connection_timeout_seconds": {"type": "integer", "minimum": 1},
        "payment_timeout_seconds": {"type": "integer", "minimum": 1},
        "max_routing_fee_percent": {"type": "number", "minimum": 0, "maximum": 100},
        "reconcile_interval_seconds": {"type": "integer", "minimum": 0},
        "max_calls_per_second": {"type": "number", "minimum": 0}
      }
    },
    "storage": {
      "type": "object",
      "properties": {
        "datadir": {"type": "string"}
      }
    }
  }
}`)

func validateSchema(doc []byte) error {
	result, err := gojsonschema.Validate(configSchema, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
