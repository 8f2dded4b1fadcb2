package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Bounds for the authorization_details request parameter. Requests past any
// of these fail before per-type validation runs.
const (
	MaxAuthorizationDetailEntries   = 10
	MaxAuthorizationDetailBytes     = 4096
	MaxAuthorizationDetailJSONDepth = 5
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// instructedAmount is the payment_initiation amount object.
type instructedAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// AuthorizationDetailsProcessor validates and normalizes RFC 9396
// authorization_details. The type registry is closed: entries whose type is
// not registered fail invalid_authorization_details rather than passing
// through unvalidated.
type AuthorizationDetailsProcessor struct{}

// SupportedTypes lists the registered authorization_details types, for
// server discovery metadata. Keep in sync with validateEntry.
func (p *AuthorizationDetailsProcessor) SupportedTypes() []string {
	return []string{"account_information", "payment_initiation"}
}

// Process parses the raw authorization_details parameter and returns the
// compacted array for storage on the authorization code and token claims.
// Empty input is valid and yields nil.
func (p *AuthorizationDetailsProcessor) Process(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: authorization_details is not a JSON array", ErrInvalidRequest)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > MaxAuthorizationDetailEntries {
		return nil, fmt.Errorf("%w: authorization_details exceeds %d entries",
			ErrInvalidRequest, MaxAuthorizationDetailEntries)
	}

	for i, entry := range entries {
		if len(entry) > MaxAuthorizationDetailBytes {
			return nil, fmt.Errorf("%w: authorization_details entry %d exceeds %d bytes",
				ErrInvalidRequest, i, MaxAuthorizationDetailBytes)
		}
		if depth := jsonDepth(entry); depth > MaxAuthorizationDetailJSONDepth {
			return nil, fmt.Errorf("%w: authorization_details entry %d nests deeper than %d levels",
				ErrInvalidRequest, i, MaxAuthorizationDetailJSONDepth)
		}
		if err := p.validateEntry(entry); err != nil {
			return nil, err
		}
	}

	// Re-marshal so storage and claims carry one canonical compact form.
	normalized, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

func (p *AuthorizationDetailsProcessor) validateEntry(entry json.RawMessage) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(entry, &head); err != nil {
		return fmt.Errorf("%w: authorization_details entry is not an object", ErrInvalidRequest)
	}
	if head.Type == "" {
		return fmt.Errorf("%w: authorization_details entry missing type", ErrInvalidRequest)
	}

	switch head.Type {
	case "payment_initiation":
		return p.validatePaymentInitiation(entry)
	case "account_information":
		return p.validateAccountInformation(entry)
	default:
		return fmt.Errorf("%w: unknown authorization_details type %q",
			ErrInvalidAuthorizationDetails, head.Type)
	}
}

func (p *AuthorizationDetailsProcessor) validatePaymentInitiation(entry json.RawMessage) error {
	var detail struct {
		InstructedAmount *instructedAmount `json:"instructedAmount"`
	}
	if err := json.Unmarshal(entry, &detail); err != nil {
		return fmt.Errorf("%w: malformed payment_initiation entry", ErrInvalidAuthorizationDetails)
	}
	if detail.InstructedAmount == nil {
		return fmt.Errorf("%w: payment_initiation requires instructedAmount", ErrInvalidAuthorizationDetails)
	}

	amount := detail.InstructedAmount
	if !currencyCodePattern.MatchString(amount.Currency) {
		return fmt.Errorf("%w: instructedAmount.currency must be a three-letter code",
			ErrInvalidAuthorizationDetails)
	}

	value, err := strconv.ParseFloat(amount.Value, 64)
	if err != nil || value <= 0 {
		return fmt.Errorf("%w: instructedAmount.value must be a positive decimal",
			ErrInvalidAuthorizationDetails)
	}
	return nil
}

func (p *AuthorizationDetailsProcessor) validateAccountInformation(entry json.RawMessage) error {
	var detail struct {
		Access *struct {
			Accounts     []string `json:"accounts"`
			Balances     []string `json:"balances"`
			Transactions []string `json:"transactions"`
		} `json:"access"`
	}
	if err := json.Unmarshal(entry, &detail); err != nil {
		return fmt.Errorf("%w: malformed account_information entry", ErrInvalidAuthorizationDetails)
	}
	// Access lists are optional; their absence grants read-only account
	// listing. Nothing further to enforce server-side.
	return nil
}

// jsonDepth walks the token stream counting open objects/arrays. Returns
// the maximum nesting level, or MaxAuthorizationDetailJSONDepth+1 as soon
// as the bound is crossed so giant payloads stop early.
func jsonDepth(raw json.RawMessage) int {
	dec := json.NewDecoder(bytes.NewReader(raw))
	depth, maxDepth := 0, 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return maxDepth
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
				if depth > maxDepth {
					maxDepth = depth
				}
				if maxDepth > MaxAuthorizationDetailJSONDepth {
					return maxDepth
				}
			case '}', ']':
				depth--
			}
		}
	}
}
