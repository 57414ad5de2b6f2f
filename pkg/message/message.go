// Package message defines the line-delimited JSON messages exchanged with
// the terminal controller and the bank connector.
package message

import (
	"encoding/json"
	"fmt"
)

// Message types (msgType).
const (
	TypeInit        = "0"
	TypeHeartbeat   = "1"
	TypeTransaction = "2"
	TypeResponse    = "3"
)

// Transaction statuses.
const (
	StatusStarted    = "STARTED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusTimeout    = "TIMEOUT"
)

// Envelope is the flat JSON object every outbound message is written as.
type Envelope struct {
	MsgType         string          `json:"msgType"`
	TrmID           string          `json:"trmId"`
	Status          string          `json:"status,omitempty"`
	Amount          string          `json:"amount,omitempty"`
	TransactionID   string          `json:"transactionId,omitempty"`
	CardData        string          `json:"cardData,omitempty"`
	EMVData         json.RawMessage `json:"emvData,omitempty"`
	Field55         string          `json:"field55,omitempty"`
	PcPosID         string          `json:"pcPosId,omitempty"`
	TransactionType string          `json:"transactionType,omitempty"`
}

// Message is one outbound message. The set of implementations is closed.
type Message interface {
	Envelope() (Envelope, error)
	message()
}

// Init announces the terminal when a controller link comes up.
type Init struct {
	TerminalID string
}

// Heartbeat keeps an idle link alive.
type Heartbeat struct {
	TerminalID string
}

// Started tells the controller a transaction has begun on the terminal.
type Started struct {
	TerminalID    string
	Amount        string
	TransactionID string
	PcPosID       string
}

// Completed reports a successful card read with the data sent to the bank.
type Completed struct {
	TerminalID    string
	TransactionID string
	EMVData       any // marshalled as the emvData object
	Field55       string
}

// Failed reports a transaction that could not complete. The reason travels
// in cardData.
type Failed struct {
	TerminalID string
	Reason     string
}

// Timeout reports that no card was presented in time.
type Timeout struct {
	TerminalID string
}

// Processing is the request sent to the bank connector. DE55 is the JSON
// document built around Field 55, carried in cardData.
type Processing struct {
	TerminalID      string
	TransactionType string
	Amount          string
	TransactionID   string
	DE55            string
	Field55         string
}

func (Init) message()       {}
func (Heartbeat) message()  {}
func (Started) message()    {}
func (Completed) message()  {}
func (Failed) message()     {}
func (Timeout) message()    {}
func (Processing) message() {}

func (m Init) Envelope() (Envelope, error) {
	return Envelope{MsgType: TypeInit, TrmID: m.TerminalID}, nil
}

func (m Heartbeat) Envelope() (Envelope, error) {
	return Envelope{MsgType: TypeHeartbeat, TrmID: m.TerminalID}, nil
}

func (m Started) Envelope() (Envelope, error) {
	return Envelope{
		MsgType:       TypeTransaction,
		TrmID:         m.TerminalID,
		Status:        StatusStarted,
		Amount:        m.Amount,
		TransactionID: m.TransactionID,
		PcPosID:       m.PcPosID,
	}, nil
}

func (m Completed) Envelope() (Envelope, error) {
	env := Envelope{
		MsgType:       TypeTransaction,
		TrmID:         m.TerminalID,
		Status:        StatusCompleted,
		TransactionID: m.TransactionID,
		Field55:       m.Field55,
	}
	if m.EMVData != nil {
		data, err := json.Marshal(m.EMVData)
		if err != nil {
			return Envelope{}, fmt.Errorf("emvData: %w", err)
		}
		env.EMVData = data
	}
	return env, nil
}

func (m Failed) Envelope() (Envelope, error) {
	return Envelope{
		MsgType:  TypeTransaction,
		TrmID:    m.TerminalID,
		Status:   StatusFailed,
		CardData: m.Reason,
	}, nil
}

func (m Timeout) Envelope() (Envelope, error) {
	return Envelope{MsgType: TypeTransaction, TrmID: m.TerminalID, Status: StatusTimeout}, nil
}

func (m Processing) Envelope() (Envelope, error) {
	return Envelope{
		MsgType:         TypeTransaction,
		TrmID:           m.TerminalID,
		Status:          StatusProcessing,
		Amount:          m.Amount,
		TransactionID:   m.TransactionID,
		CardData:        m.DE55,
		Field55:         m.Field55,
		TransactionType: m.TransactionType,
	}, nil
}

// Encode renders m as one JSON line terminated by "\n".
func Encode(m Message) ([]byte, error) {
	env, err := m.Envelope()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", m, err)
	}
	return append(data, '\n'), nil
}
