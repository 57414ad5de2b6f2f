package emv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gregLibert/smart-pos/pkg/tlv"
	"github.com/moov-io/bertlv"
)

// FCI is the File Control Information template (tag 6F) returned by SELECT,
// for the PPSE as well as for a payment application.
type FCI struct {
	DFName              []byte                 `tlv:"84" fmt:"ascii"`
	ProprietaryTemplate FCIProprietaryTemplate `tlv:"A5"`
}

// FCIProprietaryTemplate is the content of tag A5.
type FCIProprietaryTemplate struct {
	ApplicationLabel             []byte `tlv:"50" fmt:"ascii"`
	ApplicationPriorityIndicator []byte `tlv:"87" fmt:"int"`
	SFI                          []byte `tlv:"88"`
	PDOL                         []byte `tlv:"9F38"`
	LanguagePreference           []byte `tlv:"5F2D" fmt:"ascii"`
	IssuerCodeTableIndex         []byte `tlv:"9F11" fmt:"int"`
	ApplicationPreferredName     []byte `tlv:"9F12" fmt:"ascii"`

	Directory *Directory `tlv:"BF0C"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// ParseFCI decodes a SELECT response. A missing 6F wrapper is tolerated.
func ParseFCI(data []byte) (*FCI, error) {
	if len(data) == 0 {
		return nil, errors.New("empty FCI")
	}

	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode FCI: %w", err)
	}
	if len(packets) > 0 && strings.EqualFold(packets[0].Tag, "6F") {
		packets = packets[0].TLVs
	}

	fci := &FCI{}
	if err := tlv.Bind(packets, fci); err != nil {
		return nil, fmt.Errorf("map FCI: %w", err)
	}
	return fci, nil
}

// Applications returns the ranked directory entries of a PPSE FCI.
func (f *FCI) Applications() []ApplicationTemplate {
	return f.ProprietaryTemplate.Directory.Ranked()
}

// Describe renders the FCI as an indented report.
func (f *FCI) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== EMV FCI TEMPLATE ===")
	tlv.WriteStructFields(&sb, "FCI", f)
	tlv.WriteStructFields(&sb, "Proprietary", f.ProprietaryTemplate)
	if dir := f.ProprietaryTemplate.Directory; dir != nil {
		for i, app := range dir.Applications {
			tlv.WriteStructFields(&sb, fmt.Sprintf("App[%d]", i+1), app)
		}
	}
	return sb.String()
}
