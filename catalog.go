package causepay

import "sort"

// TokenCatalog resolves token metadata and curve parameters. Catalogs are
// loaded once at startup; lookups are read-only and safe for concurrent use.
type TokenCatalog interface {
	// Token returns the token with the given id. ok is false if unknown.
	Token(id TokenID) (t Token, ok bool)

	// Tokens returns all known tokens, ordered by ascending id.
	Tokens() []Token
}

// CauseCatalog resolves cause metadata.
type CauseCatalog interface {
	// Cause returns the cause with the given id. ok is false if unknown.
	Cause(id CauseID) (c Cause, ok bool)

	// Causes returns all known causes, ordered by ascending id.
	Causes() []Cause
}

// StaticTokenCatalog is an immutable TokenCatalog backed by a fixed table,
// for configuration-driven deployments and tests.
type StaticTokenCatalog struct {
	tokens map[TokenID]Token
}

// NewStaticTokenCatalog builds a catalog from the given tokens.
func NewStaticTokenCatalog(tokens ...Token) *StaticTokenCatalog {
	m := make(map[TokenID]Token, len(tokens))
	for _, t := range tokens {
		m[t.ID] = t
	}
	return &StaticTokenCatalog{tokens: m}
}

// Token implements TokenCatalog.
func (c *StaticTokenCatalog) Token(id TokenID) (Token, bool) {
	t, ok := c.tokens[id]
	return t, ok
}

// Tokens implements TokenCatalog.
func (c *StaticTokenCatalog) Tokens() []Token {
	out := make([]Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StaticCauseCatalog is an immutable CauseCatalog backed by a fixed table.
type StaticCauseCatalog struct {
	causes map[CauseID]Cause
}

// NewStaticCauseCatalog builds a catalog from the given causes.
func NewStaticCauseCatalog(causes ...Cause) *StaticCauseCatalog {
	m := make(map[CauseID]Cause, len(causes))
	for _, c := range causes {
		m[c.ID] = c
	}
	return &StaticCauseCatalog{causes: m}
}

// Cause implements CauseCatalog.
func (c *StaticCauseCatalog) Cause(id CauseID) (Cause, bool) {
	out, ok := c.causes[id]
	return out, ok
}

// Causes implements CauseCatalog.
func (c *StaticCauseCatalog) Causes() []Cause {
	out := make([]Cause, 0, len(c.causes))
	for _, cause := range c.causes {
		out = append(out, cause)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StaticValuations is a fixed-table ValuationSource keyed by wallet (or
// vendor class) and token. Missing entries default to NeutralValuation at
// the call site.
type StaticValuations struct {
	entries map[WalletAddress]map[TokenID]Valuation
}

// NewStaticValuations creates an empty valuation table.
func NewStaticValuations() *StaticValuations {
	return &StaticValuations{entries: make(map[WalletAddress]map[TokenID]Valuation)}
}

// Set records a valuation for a (wallet, token) pair.
func (s *StaticValuations) Set(wallet WalletAddress, token TokenID, v Valuation) {
	byToken, ok := s.entries[wallet]
	if !ok {
		byToken = make(map[TokenID]Valuation)
		s.entries[wallet] = byToken
	}
	byToken[token] = v
}

// Valuation implements ValuationSource.
func (s *StaticValuations) Valuation(wallet WalletAddress, token TokenID) (Valuation, bool) {
	byToken, ok := s.entries[wallet]
	if !ok {
		return Valuation{}, false
	}
	v, ok := byToken[token]
	return v, ok
}
