package guardian

import (
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/financebee/internal/pkg/revenue"
)

const (
	DefaultMaxPayloadBytes    = 500 * 1024
	DefaultMaxIdentifierBytes = 255
)

const (
	ReasonPayloadTooLarge     = "payload too large"
	ReasonInvalidTier         = "invalid tier"
	ReasonInvalidUserID       = "invalid userId"
	ReasonMissingUserID       = "missing userId"
	ReasonMissingTier         = "missing tier"
	ReasonMissingSubscription = "missing vendorSubscriptionId"
	ReasonURLShapedPrefix     = "url-shaped field rejected: "
	ReasonDangerousPattern    = "dangerous pattern matched"
	ReasonMissingEventID      = "missing event id"
)

// Verdict is the outcome of Validate.
type Verdict struct {
	Approved        bool     `json:"approved"`
	Reason          string   `json:"reason,omitempty"`
	MatchedPatterns []string `json:"matchedPatterns,omitempty"`
}

func approve() Verdict { return Verdict{Approved: true} }

func block(reason string, matched ...string) Verdict {
	return Verdict{Approved: false, Reason: reason, MatchedPatterns: matched}
}

// callbackKeys are metadata keys that would let a payload redirect side effects.
var callbackKeys = map[string]struct{}{
	"callback":     {},
	"callback_url": {},
	"callbackurl":  {},
	"url":          {},
	"webhook":      {},
	"webhook_url":  {},
	"redirect":     {},
	"redirect_url": {},
	"return_url":   {},
	"notify_url":   {},
}

// Guardian validates events before any side effect. It holds no mutable state.
type Guardian struct {
	patterns           *PatternSet
	validate           *validator.Validate
	maxPayloadBytes    int
	maxIdentifierBytes int
}

// Option customizes a Guardian.
type Option func(*Guardian)

func WithMaxPayloadBytes(n int) Option {
	return func(g *Guardian) { g.maxPayloadBytes = n }
}

func WithMaxIdentifierBytes(n int) Option {
	return func(g *Guardian) { g.maxIdentifierBytes = n }
}

// New builds a Guardian for the given pattern set version.
func New(patternSetVersion string, opts ...Option) (*Guardian, error) {
	set, err := NewPatternSet(patternSetVersion)
	if err != nil {
		return nil, err
	}
	g := &Guardian{
		patterns:           set,
		validate:           validator.New(),
		maxPayloadBytes:    DefaultMaxPayloadBytes,
		maxIdentifierBytes: DefaultMaxIdentifierBytes,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// PatternSetVersion returns the active pattern set version.
func (g *Guardian) PatternSetVersion() string {
	return g.patterns.Version
}

// Validate runs the size, structural and pattern checks in order and stops at
// the first failure. counters may be nil.
func (g *Guardian) Validate(ev *revenue.Event, counters *Counters) Verdict {
	v := g.evaluate(ev)
	if counters != nil {
		if v.Approved {
			counters.IncApproved()
		} else {
			counters.IncBlocked()
		}
	}
	return v
}

func (g *Guardian) evaluate(ev *revenue.Event) Verdict {
	if ev == nil || strings.TrimSpace(ev.ID) == "" {
		return block(ReasonMissingEventID)
	}
	if v, ok := g.checkSize(ev); !ok {
		return v
	}
	if v, ok := g.checkStructure(ev); !ok {
		return v
	}
	if v, ok := g.checkPatterns(ev); !ok {
		return v
	}
	return approve()
}

func (g *Guardian) checkSize(ev *revenue.Event) (Verdict, bool) {
	if ev.Fields.RawSize > g.maxPayloadBytes {
		return block(ReasonPayloadTooLarge), false
	}
	for _, id := range []string{ev.ID, ev.Fields.UserID, ev.Fields.Tier, ev.Fields.VendorSubscriptionID, ev.Fields.VendorCustomerID} {
		if len(id) > g.maxIdentifierBytes {
			return block(ReasonPayloadTooLarge), false
		}
	}
	encoded, err := json.Marshal(struct {
		Fields   revenue.Fields `json:"fields"`
		Metadata map[string]any `json:"metadata"`
	}{ev.Fields, ev.Metadata})
	if err != nil || len(encoded) > g.maxPayloadBytes {
		return block(ReasonPayloadTooLarge), false
	}
	return Verdict{}, true
}

func (g *Guardian) checkStructure(ev *revenue.Event) (Verdict, bool) {
	f := ev.Fields

	switch ev.Type {
	case revenue.EventCheckoutCompleted:
		if f.UserID == "" {
			return block(ReasonMissingUserID), false
		}
		if f.Tier == "" {
			return block(ReasonMissingTier), false
		}
		if f.VendorSubscriptionID == "" {
			return block(ReasonMissingSubscription), false
		}
	case revenue.EventSubscriptionUpdated, revenue.EventSubscriptionDeleted, revenue.EventPaymentFailed:
		if f.VendorSubscriptionID == "" {
			return block(ReasonMissingSubscription), false
		}
	case revenue.EventUnknown:
	}

	if err := g.validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Tier":
				return block(ReasonInvalidTier), false
			case "UserID":
				return block(ReasonInvalidUserID), false
			}
		}
		return block(err.Error()), false
	}
	// validator accepts upper-case UUIDs; only the canonical lower-case form is allowed.
	if f.UserID != "" && f.UserID != strings.ToLower(f.UserID) {
		return block(ReasonInvalidUserID), false
	}

	named := map[string]string{
		"userId":               f.UserID,
		"tier":                 f.Tier,
		"vendorSubscriptionId": f.VendorSubscriptionID,
		"vendorCustomerId":     f.VendorCustomerID,
	}
	for _, key := range sortedKeys(named) {
		if isURLShaped(named[key]) {
			return block(ReasonURLShapedPrefix + key), false
		}
	}
	if key, found := findURLShaped("metadata", ev.Metadata); found {
		return block(ReasonURLShapedPrefix + key), false
	}
	return Verdict{}, true
}

func (g *Guardian) checkPatterns(ev *revenue.Event) (Verdict, bool) {
	seen := make(map[string]struct{})
	var matched []string
	collect := func(s string) {
		for _, label := range g.patterns.Match(s) {
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			matched = append(matched, label)
		}
	}

	f := ev.Fields
	for _, s := range []string{ev.ID, ev.ProviderType, f.UserID, f.Tier, f.VendorSubscriptionID, f.VendorCustomerID, ev.ProviderStatus} {
		collect(s)
	}
	walkStrings(ev.Metadata, collect)
	// Raw covers every other leaf the provider sent, data.object included.
	walkStrings(ev.Raw, collect)

	if len(matched) > 0 {
		return block(ReasonDangerousPattern, matched...), false
	}
	return Verdict{}, true
}

// walkStrings visits every string leaf, map keys included.
func walkStrings(v any, visit func(string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case map[string]any:
		for _, k := range sortedKeys(t) {
			visit(k)
			walkStrings(t[k], visit)
		}
	case []any:
		for _, item := range t {
			walkStrings(item, visit)
		}
	}
}

// findURLShaped returns the dotted key path of the first callback-like key or
// URL-shaped value below v.
func findURLShaped(path string, v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if isURLShaped(t) {
			return path, true
		}
	case map[string]any:
		for _, k := range sortedKeys(t) {
			child := path + "." + k
			if _, bad := callbackKeys[strings.ToLower(k)]; bad {
				return child, true
			}
			if key, found := findURLShaped(child, t[k]); found {
				return key, true
			}
		}
	case []any:
		for _, item := range t {
			if key, found := findURLShaped(path, item); found {
				return key, true
			}
		}
	}
	return "", false
}

func isURLShaped(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	if strings.Contains(s, "://") || strings.HasPrefix(s, "www.") || strings.HasPrefix(s, "//") {
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "javascript", "data", "file", "mailto":
		return true
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
