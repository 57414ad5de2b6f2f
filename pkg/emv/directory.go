package emv

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gregLibert/smart-pos/pkg/bits"
	"github.com/gregLibert/smart-pos/pkg/tlv"
	"github.com/moov-io/bertlv"
)

// ApplicationTemplate (tag 61) is one entry of the payment directory
// returned by the PPSE.
type ApplicationTemplate struct {
	AID                          []byte `tlv:"4F"`
	ApplicationLabel             []byte `tlv:"50" fmt:"ascii"`
	ApplicationPriorityIndicator []byte `tlv:"87" fmt:"int"`
	ApplicationPreferredName     []byte `tlv:"9F12" fmt:"ascii"`
	KernelIdentifier             []byte `tlv:"9F2A"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// Priority returns the priority from tag 87: 1 is highest, 15 lowest and 0
// when no priority was given.
func (a ApplicationTemplate) Priority() int {
	if len(a.ApplicationPriorityIndicator) == 0 {
		return 0
	}
	_, lo := bits.Nibbles(a.ApplicationPriorityIndicator[0])
	return int(lo)
}

// Label returns the preferred name when present, else the label.
func (a ApplicationTemplate) Label() string {
	if len(a.ApplicationPreferredName) > 0 {
		return strings.TrimSpace(string(a.ApplicationPreferredName))
	}
	return strings.TrimSpace(string(a.ApplicationLabel))
}

// Directory is the FCI issuer discretionary data (tag BF0C) of the PPSE,
// listing the applications the card offers.
type Directory struct {
	Applications []ApplicationTemplate `tlv:"61"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// Ranked returns the applications that carry an AID, ordered by priority
// indicator. Prioritised entries come first (1 before 15); entries without
// a priority keep their directory order after them.
func (d *Directory) Ranked() []ApplicationTemplate {
	if d == nil {
		return nil
	}
	var apps []ApplicationTemplate
	for _, a := range d.Applications {
		if len(a.AID) > 0 {
			apps = append(apps, a)
		}
	}
	sort.SliceStable(apps, func(i, j int) bool {
		pi, pj := apps[i].Priority(), apps[j].Priority()
		if pi == 0 || pj == 0 {
			return pi != 0 && pj == 0
		}
		return pi < pj
	})
	return apps
}

// Describe reports every application of the directory.
func (d *Directory) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== PAYMENT DIRECTORY ===")
	if d == nil {
		return sb.String()
	}
	for i, app := range d.Applications {
		tlv.WriteStructFields(&sb, fmt.Sprintf("App[%d]", i+1), app)
	}
	return sb.String()
}
