// Package gate decides whether the device is on a trusted network.
//
// The gate is a pure comparison of the current network identity against a
// fixed allow-list. It fails closed: an empty allow-list, an unassociated
// device, or an identity lookup error all reject.
package gate

import (
	"context"
	"net"
	"strings"

	"github.com/roach88/geoattend/internal/attendance"
)

// IdentitySource reports the network the device is currently associated with.
type IdentitySource interface {
	Current(ctx context.Context) (attendance.NetworkIdentity, error)
}

// Decision is the outcome of one gate check.
type Decision struct {
	Passed   bool
	Identity attendance.NetworkIdentity
	Reason   string
}

// Rejection reasons.
const (
	ReasonTrusted        = "trusted"
	ReasonNoTrustedList  = "no_trusted_networks"
	ReasonNotAssociated  = "not_associated"
	ReasonUntrusted      = "untrusted_network"
	ReasonIdentityFailed = "identity_unavailable"
)

// Gate holds the trusted network allow-list.
type Gate struct {
	trusted []attendance.NetworkIdentity
}

// New creates a gate for the given trusted networks. Entries are normalized
// once so comparisons are cheap on the hot path.
func New(trusted ...attendance.NetworkIdentity) *Gate {
	g := &Gate{trusted: make([]attendance.NetworkIdentity, 0, len(trusted))}
	for _, n := range trusted {
		n = normalize(n)
		if n.Empty() {
			continue
		}
		g.trusted = append(g.trusted, n)
	}
	return g
}

// Trusted returns a copy of the normalized allow-list.
func (g *Gate) Trusted() []attendance.NetworkIdentity {
	out := make([]attendance.NetworkIdentity, len(g.trusted))
	copy(out, g.trusted)
	return out
}

// Allows reports whether the identity matches an allow-list entry.
//
// An entry matches when both SSID and BSSID are equal. The SSID comparison
// is exact after stripping the surrounding quotes some platforms report; the
// BSSID comparison ignores case and separator style.
func (g *Gate) Allows(id attendance.NetworkIdentity) bool {
	id = normalize(id)
	if id.SSID == "" || id.BSSID == "" {
		return false
	}
	for _, n := range g.trusted {
		if n.SSID == id.SSID && n.BSSID == id.BSSID {
			return true
		}
	}
	return false
}

// Check reads the current identity from src and evaluates it.
func (g *Gate) Check(ctx context.Context, src IdentitySource) Decision {
	if len(g.trusted) == 0 {
		return Decision{Reason: ReasonNoTrustedList}
	}
	id, err := src.Current(ctx)
	if err != nil {
		return Decision{Reason: ReasonIdentityFailed}
	}
	return g.Evaluate(id)
}

// Evaluate checks an already-known identity.
func (g *Gate) Evaluate(id attendance.NetworkIdentity) Decision {
	switch {
	case len(g.trusted) == 0:
		return Decision{Identity: id, Reason: ReasonNoTrustedList}
	case id.Empty():
		return Decision{Identity: id, Reason: ReasonNotAssociated}
	case g.Allows(id):
		return Decision{Passed: true, Identity: id, Reason: ReasonTrusted}
	default:
		return Decision{Identity: id, Reason: ReasonUntrusted}
	}
}

func normalize(n attendance.NetworkIdentity) attendance.NetworkIdentity {
	ssid := n.SSID
	if len(ssid) >= 2 && strings.HasPrefix(ssid, `"`) && strings.HasSuffix(ssid, `"`) {
		ssid = ssid[1 : len(ssid)-1]
	}
	return attendance.NetworkIdentity{SSID: ssid, BSSID: normalizeBSSID(n.BSSID)}
}

func normalizeBSSID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if hw, err := net.ParseMAC(s); err == nil {
		return hw.String()
	}
	return strings.ToLower(s)
}
