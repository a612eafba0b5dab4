// Package address parses raw email header values into individual addresses.
package address

import "strings"

// Parsed is one address extracted from a header value.
type Parsed struct {
	Address string // lowercased
	Name    string // display name, verbatim after trimming; empty if none
	Domain  string // lowercased, right-hand side of Address
}

// Parse splits a raw header value (From, To, or Cc) into addresses.
//
// Tokens are comma-separated, but a comma inside a double-quoted span or
// inside an angle-bracket group does not split. Within a token, the address
// is the content of the last angle-bracket group if present (with the
// prefix as the display name, surrounding double quotes stripped);
// otherwise the whole token is the address and the name is empty.
// A token that doesn't parse into a valid address is dropped silently.
func Parse(header string) []Parsed {
	var out []Parsed
	for _, tok := range splitTokens(header) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		p, ok := parseToken(tok)
		if !ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// splitTokens splits on commas that are not inside double quotes or angle
// brackets.
func splitTokens(s string) []string {
	var tokens []string
	var buf strings.Builder
	inQuotes := false
	angleDepth := 0

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			buf.WriteRune(r)
		case r == '<' && !inQuotes:
			angleDepth++
			buf.WriteRune(r)
		case r == '>' && !inQuotes && angleDepth > 0:
			angleDepth--
			buf.WriteRune(r)
		case r == ',' && !inQuotes && angleDepth == 0:
			tokens = append(tokens, buf.String())
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	if buf.Len() > 0 {
		tokens = append(tokens, buf.String())
	}
	return tokens
}

// parseToken extracts the address and display name from a single token.
func parseToken(tok string) (Parsed, bool) {
	var rawAddr, rawName string

	if open := strings.LastIndex(tok, "<"); open >= 0 {
		closeIdx := strings.LastIndex(tok, ">")
		if closeIdx <= open {
			return Parsed{}, false
		}
		rawAddr = tok[open+1 : closeIdx]
		rawName = strings.TrimSpace(tok[:open])
		rawName = strings.Trim(rawName, `"`)
		rawName = strings.TrimSpace(rawName)
	} else {
		rawAddr = tok
	}

	rawAddr = strings.TrimSpace(rawAddr)
	addr, domain, ok := validate(rawAddr)
	if !ok {
		return Parsed{}, false
	}

	return Parsed{Address: addr, Name: rawName, Domain: domain}, true
}

// validate checks the address validity rule: exactly one '@', at
// least one character on each side, and the right side contains a '.'.
// Returns the lowercased address and domain.
func validate(addr string) (lowerAddr string, domain string, ok bool) {
	at := strings.Count(addr, "@")
	if at != 1 {
		return "", "", false
	}
	idx := strings.IndexByte(addr, '@')
	left, right := addr[:idx], addr[idx+1:]
	if left == "" || right == "" {
		return "", "", false
	}
	if !strings.Contains(right, ".") {
		return "", "", false
	}
	lowerAddr = strings.ToLower(addr)
	domain = strings.ToLower(right)
	return lowerAddr, domain, true
}
