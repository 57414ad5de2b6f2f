package iso7816

import (
	"fmt"

	"github.com/gregLibert/smart-pos/pkg/bits"
)

// Class is a decoded CLA byte.
//
// Interindustry classes come in two ranges. The first (00xx xxxx) has
// chaining on bit 5, secure messaging on bits 4-3 and the logical channel on
// bits 2-1. The further range (01xx xxxx) has secure messaging on bit 6,
// chaining on bit 5 and channel-4 on bits 4-1. Bit 8 marks a proprietary
// class such as the EMV 0x80.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging byte
	Channel         uint8
}

// Interindustry and EMV proprietary classes used by the payment flow.
var (
	ClassInterindustry = Class{Raw: 0x00}
	ClassProprietary   = Class{Raw: 0x80, IsProprietary: true}
)

// NewClass decodes cla. 0xFF is reserved and rejected.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA 0xFF: reserved value")
	}

	c := Class{Raw: cla}
	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)
	if !bits.IsSet(cla, 7) {
		c.SecureMessaging = bits.Field(cla, 4, 3)
		c.Channel = bits.Field(cla, 2, 1)
		return c, nil
	}

	if bits.IsSet(cla, 6) {
		c.SecureMessaging = 2
	}
	c.Channel = bits.Field(cla, 4, 1) + 4
	return c, nil
}

// Encode rebuilds the CLA byte from the decoded fields.
func (c Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("logical channel %d out of range", c.Channel)
	}

	var b byte
	if c.IsChained {
		b = bits.Set(b, 5)
	}
	if c.Channel <= 3 {
		return b | c.SecureMessaging<<2 | c.Channel, nil
	}

	b = bits.Set(b, 7)
	if c.SecureMessaging != 0 {
		b = bits.Set(b, 6)
	}
	return b | (c.Channel - 4), nil
}
