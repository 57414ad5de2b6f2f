package iso7816

import (
	"context"
	"errors"
	"fmt"
)

// maxFollowUps bounds the GET RESPONSE / resend chain of a single Send.
const maxFollowUps = 16

// ErrTooManyFollowUps is returned when a card keeps answering 61XX or 6CXX.
var ErrTooManyFollowUps = errors.New("too many 61XX/6CXX follow-ups")

// Transmitter exchanges one raw command for one raw response.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// TransmitFunc adapts a plain function to Transmitter.
type TransmitFunc func(cmd []byte) ([]byte, error)

// Transmit calls f.
func (f TransmitFunc) Transmit(cmd []byte) ([]byte, error) { return f(cmd) }

// Client sends commands through a Transmitter and resolves the T=0
// transport statuses:
//
//   - 61XX: XX bytes are waiting, fetched with GET RESPONSE on the same
//     logical channel.
//   - 6CXX: the command is re-sent with Le = XX.
type Client struct {
	Card Transmitter
}

// NewClient returns a Client for card.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits cmd and follows 61XX/6CXX answers. The returned Trace holds
// every physical exchange; its last entry carries the final answer. ctx is
// checked before each exchange.
func (c *Client) Send(ctx context.Context, cmd *CommandAPDU) (Trace, error) {
	var trace Trace
	for i := 0; i <= maxFollowUps; i++ {
		if err := ctx.Err(); err != nil {
			return trace, err
		}

		resp, err := c.exchange(cmd)
		if err != nil {
			return trace, err
		}
		trace = append(trace, Transaction{Command: cmd, Response: resp})

		switch resp.Status.SW1() {
		case 0x61:
			cla := cmd.Class
			cla.IsChained = false
			cmd = NewCommandAPDU(cla, mustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, le(resp.Status.SW2()))
		case 0x6C:
			resend := *cmd
			resend.Ne = le(resp.Status.SW2())
			cmd = &resend
		default:
			return trace, nil
		}
	}
	return trace, ErrTooManyFollowUps
}

func (c *Client) exchange(cmd *CommandAPDU) (*ResponseAPDU, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Instruction.Raw, err)
	}
	out, err := c.Card.Transmit(raw)
	if err != nil {
		return nil, fmt.Errorf("transmit %s: %w", cmd.Instruction.Raw, err)
	}
	return ParseResponseAPDU(out)
}

// le maps a one-byte length hint to Ne, where 00 means 256.
func le(b byte) int {
	if b == 0 {
		return MaxShortLe
	}
	return int(b)
}
