package types

import (
	"errors"
	"strings"
)

// PaymentMethodKind enumerates supported payment instruments.
type PaymentMethodKind string

const (
	MethodCard      PaymentMethodKind = "card"
	MethodCrypto    PaymentMethodKind = "crypto"
	MethodBank      PaymentMethodKind = "bank"
	MethodWallet    PaymentMethodKind = "wallet"
	MethodApplePay  PaymentMethodKind = "apple_pay"
	MethodGooglePay PaymentMethodKind = "google_pay"
)

// ErrUnknownMethod reports an unrecognised payment method kind.
var ErrUnknownMethod = errors.New("types: unknown payment method")

// ParseMethodKind normalises and validates a payment method string.
func ParseMethodKind(raw string) (PaymentMethodKind, error) {
	kind := PaymentMethodKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case MethodCard, MethodCrypto, MethodBank, MethodWallet, MethodApplePay, MethodGooglePay:
		return kind, nil
	}
	return "", ErrUnknownMethod
}

// CardDetails carries tokenised card data. The PAN never enters the core;
// only the vault token, display suffix and BIN prefix do.
type CardDetails struct {
	Token       string `json:"token"`
	Last4       string `json:"last4"`
	BIN         string `json:"bin"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
}

// CryptoDetails carries an on-chain payment reference.
type CryptoDetails struct {
	Address     string `json:"address"`
	TxID        string `json:"txid"`
	BlockHeight uint64 `json:"blockHeight"`
}

// BankDetails carries tokenised bank account data.
type BankDetails struct {
	AccountToken string `json:"accountToken"`
	Routing      string `json:"routing"`
}

// WalletDetails carries a device wallet token (Apple Pay / Google Pay or a
// stored platform wallet).
type WalletDetails struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

// PaymentMethod is a tagged variant: exactly one detail struct matching Kind
// is populated. Exhaustive switches over Kind keep handling explicit.
type PaymentMethod struct {
	Kind   PaymentMethodKind `json:"kind"`
	Card   *CardDetails      `json:"card,omitempty"`
	Crypto *CryptoDetails    `json:"crypto,omitempty"`
	Bank   *BankDetails      `json:"bank,omitempty"`
	Wallet *WalletDetails    `json:"wallet,omitempty"`
}

// Validate checks that the populated detail struct matches the declared kind.
func (m PaymentMethod) Validate() error {
	switch m.Kind {
	case MethodCard:
		if m.Card == nil || strings.TrimSpace(m.Card.Token) == "" {
			return errors.New("types: card token required")
		}
	case MethodCrypto:
		if m.Crypto == nil || strings.TrimSpace(m.Crypto.TxID) == "" {
			return errors.New("types: crypto txid required")
		}
	case MethodBank:
		if m.Bank == nil || strings.TrimSpace(m.Bank.AccountToken) == "" {
			return errors.New("types: bank account token required")
		}
	case MethodWallet, MethodApplePay, MethodGooglePay:
		if m.Wallet == nil || strings.TrimSpace(m.Wallet.Token) == "" {
			return errors.New("types: wallet token required")
		}
	default:
		return ErrUnknownMethod
	}
	return nil
}
