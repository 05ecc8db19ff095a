package api

// Amounts are decimal strings with at most two places; rates allow up to six.
const (
	amountPattern = `^[0-9]+(\\.[0-9]{1,2})?$`
	ratePattern   = `^[0-9]+(\\.[0-9]{1,6})?$`
)

const openAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_name"],
  "properties": {
    "account_name": {"type": "string", "minLength": 1, "maxLength": 255},
    "account_type": {"type": "string", "enum": ["SAVINGS", "CHECKING"]},
    "owner_id": {"type": "string", "maxLength": 255},
    "currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
    "account_number": {"type": "string", "minLength": 1, "maxLength": 50}
  }
}`

const postingSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["type", "amount", "account_id"],
  "properties": {
    "type": {"type": "string", "enum": ["DEPOSIT", "WITHDRAWAL", "PAYMENT", "TRANSFER"]},
    "amount": {"type": "string", "pattern": "` + amountPattern + `"},
    "account_id": {"type": "string", "minLength": 1},
    "to_account_id": {"type": "string", "minLength": 1},
    "description": {"type": "string", "maxLength": 500},
    "reference": {"type": "string", "minLength": 1, "maxLength": 100},
    "transaction_id": {"type": "string", "maxLength": 100}
  },
  "if": {"properties": {"type": {"const": "TRANSFER"}}},
  "then": {"required": ["to_account_id"]}
}`

const createLoanSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "principal", "annual_rate", "tenure_months"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "loan_type": {"type": "string", "maxLength": 50},
    "principal": {"type": "string", "pattern": "` + amountPattern + `"},
    "annual_rate": {"type": "string", "pattern": "` + ratePattern + `"},
    "tenure_months": {"type": "integer", "minimum": 1, "maximum": 600},
    "loan_number": {"type": "string", "minLength": 1, "maxLength": 50}
  }
}`

const disburseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "amount": {"type": "string", "pattern": "` + amountPattern + `"},
    "transaction_id": {"type": "string", "maxLength": 100}
  }
}`

const settleSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "transaction_id": {"type": "string", "maxLength": 100}
  }
}`

const schedulePreviewSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["principal", "annual_rate", "tenure_months"],
  "properties": {
    "principal": {"type": "string", "pattern": "` + amountPattern + `"},
    "annual_rate": {"type": "string", "pattern": "` + ratePattern + `"},
    "tenure_months": {"type": "integer", "minimum": 1, "maximum": 600},
    "start": {"type": "string", "format": "date-time"}
  }
}`
