package auth

import "strings"

// ParseMethods reads a WWW-Authenticate value such as
// "SCRAM handshakeToken=abc, hash=SHA-256; PLAINTEXT" into lowercase
// method names mapped to their parameters.
func ParseMethods(header string) map[string]map[string]string {
	methods := make(map[string]map[string]string)
	for _, part := range strings.Split(header, ";") {
		words := strings.Fields(part)
		if len(words) == 0 {
			continue
		}
		name := strings.ToLower(words[0])
		methods[name] = ParseParams(strings.Join(words[1:], ""))
	}
	return methods
}

// ParseParams reads "name=value,name2=value2". Only the first = splits, so
// padded base64 values survive intact.
func ParseParams(s string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		params[name] = strings.TrimSpace(value)
	}
	return params
}
